package acquire

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/codebuildervaibhav/clipminer/internal/browser"
	"github.com/codebuildervaibhav/clipminer/internal/types"
)

// sessionStartAttempts bounds browser launches per slot before the slot
// gives up and leaves its targets to the other slots.
const sessionStartAttempts = 2

// SessionFactory builds a browser session bound to a profile directory.
type SessionFactory func(ctx context.Context, profileDir string) (browser.Session, error)

// Result is one target's outcome. Exactly one of Video/Err is set.
type Result struct {
	Video *types.AcquiredVideo
	Err   error
}

// PoolConfig sizes and wires a download pool.
type PoolConfig struct {
	Workers int
	// ProfileBase holds one worker_<i> profile sub-directory per slot,
	// so concurrent browsers never fight over a profile.
	ProfileBase string
	// RecycleAfter restarts a slot's browser after this many targets,
	// clearing its profile locks. 0 disables recycling.
	RecycleAfter int
	NewSession   SessionFactory
	HTTPClient   *http.Client
	Limiter      *rate.Limiter
	Acquire      Options
}

// Pool drains a batch of targets across persistent browser slots. A
// target's failure, panic included, never takes down the pool: it is
// recorded as that target's Result and the slot moves on.
type Pool struct {
	cfg PoolConfig

	// acquireFn is swapped out by tests to exercise pool mechanics
	// without a full acquisition flow.
	acquireFn func(ctx context.Context, sess browser.Session, target types.VideoTarget, queryDir string) (*types.AcquiredVideo, error)
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	p := &Pool{cfg: cfg}
	p.acquireFn = func(ctx context.Context, sess browser.Session, target types.VideoTarget, queryDir string) (*types.AcquiredVideo, error) {
		return NewAcquirer(sess, cfg.HTTPClient, cfg.Limiter, cfg.Acquire).Acquire(ctx, target, queryDir)
	}
	return p
}

// Run downloads every target into queryDir and returns results keyed by
// page URL. It always returns a result for every target, even when some
// or all slots lose their browser.
func (p *Pool) Run(ctx context.Context, targets []types.VideoTarget, queryDir string) map[string]Result {
	results := make(map[string]Result, len(targets))
	if len(targets) == 0 {
		return results
	}

	// jobs stays open until every target has a result, so a slot that
	// dies can hand its current target back to the healthy slots.
	jobs := make(chan types.VideoTarget, len(targets))
	for _, t := range targets {
		jobs <- t
	}

	var mu sync.Mutex
	var pending sync.WaitGroup
	pending.Add(len(targets))
	record := func(t types.VideoTarget, v *types.AcquiredVideo, err error) {
		mu.Lock()
		results[t.PageURL] = Result{Video: v, Err: err}
		mu.Unlock()
		pending.Done()
	}
	go func() {
		pending.Wait()
		close(jobs)
	}()

	var alive atomic.Int32
	alive.Store(int32(p.cfg.Workers))

	var wg sync.WaitGroup
	for slot := 0; slot < p.cfg.Workers; slot++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.worker(ctx, slot, jobs, queryDir, record, &alive)
		}(slot)
	}
	wg.Wait()
	return results
}

func (p *Pool) worker(ctx context.Context, slot int, jobs chan types.VideoTarget, queryDir string, record func(types.VideoTarget, *types.AcquiredVideo, error), alive *atomic.Int32) {
	profileDir := filepath.Join(p.cfg.ProfileBase, fmt.Sprintf("worker_%d", slot))

	var sess browser.Session
	defer func() {
		if sess != nil {
			sess.Close()
		}
	}()

	handled := 0
	for target := range jobs {
		if ctx.Err() != nil {
			record(target, nil, ctx.Err())
			continue
		}
		if sess == nil {
			s, err := p.startSession(ctx, slot, profileDir)
			if err != nil {
				log.Printf("Worker %d: browser never came up, dropping slot: %v", slot, err)
				p.dropSlot(target, err, jobs, record, alive)
				return
			}
			sess = s
		}

		video, err := p.runOne(ctx, sess, target, queryDir)
		record(target, video, err)
		if err != nil {
			log.Printf("Worker %d: %s: %v", slot, target.PageURL, err)
		}

		handled++
		if p.cfg.RecycleAfter > 0 && handled%p.cfg.RecycleAfter == 0 {
			log.Printf("Worker %d: recycling browser after %d targets", slot, handled)
			sess.Close()
			sess = nil
			browser.ClearProfileLocks(profileDir)
		}
	}
}

// startSession launches the slot's browser, retrying once with cleared
// profile locks before reporting the slot unusable.
func (p *Pool) startSession(ctx context.Context, slot int, profileDir string) (browser.Session, error) {
	var err error
	for attempt := 0; attempt < sessionStartAttempts; attempt++ {
		var s browser.Session
		s, err = p.cfg.NewSession(ctx, profileDir)
		if err == nil {
			return s, nil
		}
		log.Printf("Worker %d: session start failed: %v", slot, err)
		browser.ClearProfileLocks(profileDir)
	}
	return nil, err
}

// dropSlot returns the slot's target to the queue for the remaining
// slots. The last slot standing fails whatever is left instead, so Run
// still produces a result per target.
func (p *Pool) dropSlot(target types.VideoTarget, startErr error, jobs chan types.VideoTarget, record func(types.VideoTarget, *types.AcquiredVideo, error), alive *atomic.Int32) {
	jobs <- target
	if alive.Add(-1) > 0 {
		return
	}
	for {
		select {
		case t, ok := <-jobs:
			if !ok {
				return
			}
			record(t, nil, fmt.Errorf("browser session: %w", startErr))
		default:
			return
		}
	}
}

func (p *Pool) runOne(ctx context.Context, sess browser.Session, target types.VideoTarget, queryDir string) (video *types.AcquiredVideo, err error) {
	defer func() {
		if r := recover(); r != nil {
			video, err = nil, fmt.Errorf("worker panic: %v", r)
		}
	}()
	return p.acquireFn(ctx, sess, target, queryDir)
}
