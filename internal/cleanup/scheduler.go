package cleanup

import (
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Scheduler handles periodic hygiene for long batch runs: old temp
// files from whisper and ffmpeg, and browser profile caches that grow
// without bound.
type Scheduler struct {
	tempDir         string
	profileBase     string
	intervalMinutes int
	maxAgeHours     int
	stopChan        chan struct{}
}

// NewScheduler creates a new cleanup scheduler.
func NewScheduler(tempDir, profileBase string, intervalMinutes, maxAgeHours int) *Scheduler {
	return &Scheduler{
		tempDir:         tempDir,
		profileBase:     profileBase,
		intervalMinutes: intervalMinutes,
		maxAgeHours:     maxAgeHours,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the cleanup scheduler.
func (s *Scheduler) Start() {
	log.Println("Running initial temp file cleanup...")
	s.cleanOldFiles()

	ticker := time.NewTicker(time.Duration(s.intervalMinutes) * time.Minute)

	go func() {
		for {
			select {
			case <-ticker.C:
				s.cleanOldFiles()
				ClearProfileCaches(s.profileBase)
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %dm, max age: %dh)",
		s.intervalMinutes, s.maxAgeHours)
}

// Stop stops the cleanup scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	log.Println("Cleanup scheduler stopped")
}

// cleanOldFiles removes files older than maxAgeHours from the temp
// directory.
func (s *Scheduler) cleanOldFiles() {
	now := time.Now()
	maxAge := time.Duration(s.maxAgeHours) * time.Hour

	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age > maxAge {
			size := info.Size()
			if err := os.Remove(path); err != nil {
				log.Printf("Failed to delete old file %s: %v", path, err)
			} else {
				deletedCount++
				deletedSize += size
			}
		}
		return nil
	})

	if err != nil {
		log.Printf("Error during cleanup: %v", err)
	}

	if deletedCount > 0 {
		log.Printf("Cleanup complete: %d files deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
}

// cacheDirs are the profile sub-directories that grow during a run and
// are safe to clear between sessions.
var cacheDirs = []string{
	"Default/Cache",
	"Default/Code Cache",
	"Default/GPUCache",
	"GrShaderCache",
	"ShaderCache",
}

// ClearProfileCaches empties the cache directories of every worker
// profile under profileBase. Cookies and login state stay.
func ClearProfileCaches(profileBase string) {
	profiles, err := filepath.Glob(filepath.Join(profileBase, "worker_*"))
	if err != nil {
		return
	}
	var cleared int
	for _, profile := range profiles {
		for _, cache := range cacheDirs {
			dir := filepath.Join(profile, filepath.FromSlash(cache))
			if _, statErr := os.Stat(dir); statErr != nil {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				log.Printf("Failed to clear cache %s: %v", dir, err)
			} else {
				cleared++
			}
		}
	}
	if cleared > 0 {
		log.Printf("Cleared %d profile cache dirs under %s", cleared, profileBase)
	}
}

// KillOrphanBrowsers terminates chromium processes whose user-data-dir
// points into profileBase but whose controlling session is gone. A
// crashed worker slot can leave the process running and holding the
// profile lock.
func KillOrphanBrowsers(profileBase string) int {
	out, err := exec.Command("pgrep", "-af", "chromium").Output()
	if err != nil {
		// pgrep exits 1 on no matches.
		return 0
	}

	killed := 0
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" || !strings.Contains(line, "--user-data-dir="+profileBase) {
			continue
		}
		pid, _, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		if err := exec.Command("kill", pid).Run(); err != nil {
			log.Printf("Failed to kill orphan browser %s: %v", pid, err)
			continue
		}
		killed++
	}
	if killed > 0 {
		log.Printf("Killed %d orphaned browser processes", killed)
	}
	return killed
}

// EnsureTempDirExists creates the temp directory if it doesn't exist.
func EnsureTempDirExists(tempDir string) error {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return err
	}
	log.Printf("Temp directory ready: %s", tempDir)
	return nil
}
