package pipeline

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrLowDisk stops the batch before a query starts when free space is
// under the floor. The in-flight query always finishes; this only gates
// new work.
var ErrLowDisk = errors.New("free disk space under floor")

const defaultDiskFloorBytes = 1 << 30 // 1 GiB

// DiskGuard checks free space on the filesystem holding Path.
type DiskGuard struct {
	Path         string
	MinFreeBytes uint64
	// statfs is swappable in tests.
	statfs func(path string) (free uint64, err error)
}

func NewDiskGuard(path string, minFreeBytes uint64) *DiskGuard {
	if minFreeBytes == 0 {
		minFreeBytes = defaultDiskFloorBytes
	}
	return &DiskGuard{Path: path, MinFreeBytes: minFreeBytes, statfs: freeBytes}
}

// Check returns ErrLowDisk when free space is below the floor.
func (g *DiskGuard) Check() error {
	stat := g.statfs
	if stat == nil {
		stat = freeBytes
	}
	free, err := stat(g.Path)
	if err != nil {
		return fmt.Errorf("stat filesystem %s: %w", g.Path, err)
	}
	if free < g.MinFreeBytes {
		return fmt.Errorf("%d bytes free, need %d: %w", free, g.MinFreeBytes, ErrLowDisk)
	}
	return nil
}

func freeBytes(path string) (uint64, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return 0, err
	}
	return fs.Bavail * uint64(fs.Bsize), nil
}
