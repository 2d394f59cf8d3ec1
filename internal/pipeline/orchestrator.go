package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/codebuildervaibhav/clipminer/internal/acquire"
	"github.com/codebuildervaibhav/clipminer/internal/retry"
	"github.com/codebuildervaibhav/clipminer/internal/search"
	"github.com/codebuildervaibhav/clipminer/internal/types"
	"github.com/codebuildervaibhav/clipminer/internal/upload"
)

// Downloader drains a batch of targets into a query directory.
// *acquire.Pool is the production implementation.
type Downloader interface {
	Run(ctx context.Context, targets []types.VideoTarget, queryDir string) map[string]acquire.Result
}

// Processor extracts artifacts from one downloaded video.
// *extract.Extractor is the production implementation.
type Processor interface {
	Process(ctx context.Context, video *types.AcquiredVideo) (*types.ArtifactBundle, error)
	KeyFrames(bundle *types.ArtifactBundle) []types.Frame
}

// Persister uploads one processed video. *upload.Uploader is the
// production implementation.
type Persister interface {
	Upload(ctx context.Context, video *types.AcquiredVideo, bundle *types.ArtifactBundle, keyFrames []types.Frame, query string) (types.UploadRecord, bool, error)
}

// IDSource reports which videos already live in the corpus.
type IDSource interface {
	KnownIDs() (map[string]bool, error)
}

// Config tunes one batch run.
type Config struct {
	RunRoot    string
	MaxResults int
	DryRun     bool
	Resume     bool
	// MinSuccessRatio is the uploaded/attempted floor a lossy query must
	// reach to count as partial_success; below it the query is failed.
	MinSuccessRatio float64
	// BaseDelay paces queries and downloads; actual waits are the base
	// plus up to the same amount of jitter.
	BaseDelay time.Duration
	// HygieneEvery triggers profile/process cleanup every N queries.
	HygieneEvery int
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxResults == 0 {
		out.MaxResults = 5
	}
	if out.MinSuccessRatio == 0 {
		out.MinSuccessRatio = 0.5
	}
	if out.HygieneEvery == 0 {
		out.HygieneEvery = 5
	}
	return out
}

// Orchestrator walks each query through search, download, processing,
// and upload, with per-stage retry budgets, durable progress, and
// per-query isolation: one query's failure never stops the batch.
type Orchestrator struct {
	Searcher   search.Searcher
	Downloader Downloader
	Processor  Processor
	Persister  Persister
	Known      IDSource

	Progress *ProgressFile
	Failures *FailureLog
	Guard    *DiskGuard
	// Hygiene runs every few queries: cache clearing, orphan sweeps.
	Hygiene func()
	// Sleep is swappable in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	Cfg Config

	SearchPolicy   retry.Policy
	DownloadPolicy retry.Policy
	UploadPolicy   retry.Policy

	stopped atomic.Bool
}

// NewOrchestrator wires the production retry table: search 3 attempts
// backing off 2s/4s/8s, download 2 attempts with a short fixed delay,
// upload 3 attempts with exponential backoff.
func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		Cfg:            cfg.withDefaults(),
		SearchPolicy:   retry.Policy{MaxAttempts: 3, Backoff: retry.Exponential(2 * time.Second)},
		DownloadPolicy: retry.Policy{MaxAttempts: 2, Backoff: retry.Fixed(5 * time.Second)},
		UploadPolicy: retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.Exponential(2 * time.Second),
			Retryable:   func(err error) bool { return !errors.Is(err, upload.ErrValidation) },
		},
	}
}

// Stop makes the batch finish its in-flight query and then exit. Safe
// from any goroutine; signal handlers call it.
func (o *Orchestrator) Stop() {
	o.stopped.Store(true)
}

// Stopped reports whether Stop was called, so callers can tell an
// interrupted batch from a completed one.
func (o *Orchestrator) Stopped() bool {
	return o.stopped.Load()
}

// RunBatch processes the query window, resuming past progress when
// configured. It returns the final stats and ErrLowDisk when the disk
// guard ended the run early.
func (o *Orchestrator) RunBatch(ctx context.Context, queries []ResearchQuery) (types.Stats, error) {
	cfg := o.Cfg.withDefaults()

	var progress types.RunProgress
	if cfg.Resume {
		loaded, err := o.Progress.Load()
		if err != nil {
			return types.Stats{}, err
		}
		progress = loaded
		if len(progress.ProcessedQueries) > 0 {
			log.Printf("Pipeline: resuming, %d queries already processed", len(progress.ProcessedQueries))
		}
	}
	processed := map[string]bool{}
	for _, key := range progress.ProcessedQueries {
		processed[key] = true
	}

	var runErr error
	for n, rq := range queries {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		if o.stopped.Load() {
			log.Printf("Pipeline: stop requested, exiting after %d queries", n)
			break
		}

		key := QueryKey(rq.Index, rq.Query)
		if processed[key] {
			log.Printf("Pipeline: skipping already-processed %q", key)
			continue
		}

		if o.Guard != nil {
			if err := o.Guard.Check(); err != nil {
				log.Printf("Pipeline: %v", err)
				o.recordFailure(types.StageSearch, rq, err, map[string]string{"reason": "disk_guard"})
				runErr = err
				break
			}
		}

		result := o.RunQuery(ctx, rq)

		progress.ProcessedQueries = append(progress.ProcessedQueries, key)
		progress.Stats.Total++
		if result.Status == types.StatusSuccess || result.Status == types.StatusPartialSuccess || result.Status == types.StatusDryRun {
			progress.Stats.Success++
		} else {
			progress.Stats.Failed++
		}
		if err := o.Progress.Save(progress); err != nil {
			log.Printf("Pipeline: progress save failed: %v", err)
		}

		if cfg.HygieneEvery > 0 && (n+1)%cfg.HygieneEvery == 0 && o.Hygiene != nil {
			o.Hygiene()
		}
		if n < len(queries)-1 {
			if err := o.pause(ctx); err != nil {
				runErr = err
				break
			}
		}
	}

	log.Printf("Pipeline: batch done: %d total, %d success, %d failed",
		progress.Stats.Total, progress.Stats.Success, progress.Stats.Failed)
	return progress.Stats, runErr
}

// RunQuery takes one query through the full pipeline and returns its
// outcome. Every failure path is recorded in the failure log.
func (o *Orchestrator) RunQuery(ctx context.Context, rq ResearchQuery) types.QueryResult {
	cfg := o.Cfg.withDefaults()
	result := types.QueryResult{
		Index:     rq.Index,
		Query:     rq.Query,
		StartedAt: time.Now().UTC(),
	}
	defer func() { result.CompletedAt = time.Now().UTC() }()

	log.Printf("Pipeline: query %d %q", rq.Index, rq.Query)

	urls, err := retry.DoValue(ctx, o.searchPolicy(), func() ([]string, error) {
		return o.Searcher.Search(ctx, rq.Query, cfg.MaxResults)
	})
	if err != nil {
		result.Status = types.StatusSearchFailed
		result.Errors = append(result.Errors, err.Error())
		o.recordFailure(types.StageSearch, rq, err, nil)
		return result
	}
	result.VideosFound = len(urls)

	targets := o.dedupTargets(urls, rq.Query)
	if len(targets) == 0 {
		log.Printf("Pipeline: all %d results for %q already stored", len(urls), rq.Query)
		result.Status = types.StatusSuccess
		return result
	}

	if cfg.DryRun {
		log.Printf("Pipeline: dry run, would download %d videos for %q", len(targets), rq.Query)
		result.Status = types.StatusDryRun
		return result
	}

	queryDir := filepath.Join(cfg.RunRoot, fmt.Sprintf("query_%05d_%s", rq.Index, slugify(rq.Query)))
	if err := os.MkdirAll(queryDir, 0o755); err != nil {
		result.Status = types.StatusError
		result.Errors = append(result.Errors, err.Error())
		o.recordFailure(types.StageDownload, rq, err, nil)
		return result
	}

	if err := o.pause(ctx); err != nil {
		result.Status = types.StatusError
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	videos := o.downloadAll(ctx, rq, targets, queryDir, &result)
	if len(videos) == 0 {
		result.Status = types.StatusDownloadFailed
		return result
	}
	result.VideosDownloaded = len(videos)

	uploaded := 0
	for _, video := range videos {
		if o.handleVideo(ctx, rq, video, &result) {
			uploaded++
		}
	}
	result.VideosUploaded = uploaded
	result.VideosFailed = len(targets) - uploaded

	// Success means every attempted video landed; any loss caps the query
	// at partial_success, and the ratio (over the videos actually
	// attempted, not the already-stored ones dedup skipped) decides
	// whether a lossy query still counts as partial or as failed.
	switch {
	case result.VideosProcessed == 0:
		result.Status = types.StatusProcessingFailed
	case uploaded == 0:
		result.Status = types.StatusUploadFailed
	case result.VideosFailed == 0:
		result.Status = types.StatusSuccess
	case float64(uploaded)/float64(len(targets)) >= cfg.MinSuccessRatio:
		result.Status = types.StatusPartialSuccess
	default:
		result.Status = types.StatusFailed
	}
	log.Printf("Pipeline: query %d done: %s (%d/%d uploaded)", rq.Index, result.Status, uploaded, len(targets))
	return result
}

// downloadAll runs the pool, then gives failed targets one more pass
// per the download retry budget.
func (o *Orchestrator) downloadAll(ctx context.Context, rq ResearchQuery, targets []types.VideoTarget, queryDir string, result *types.QueryResult) []*types.AcquiredVideo {
	outcomes := o.Downloader.Run(ctx, targets, queryDir)

	attempts := o.downloadPolicy().MaxAttempts
	for attempt := 1; attempt < attempts; attempt++ {
		var failed []types.VideoTarget
		for _, t := range targets {
			if r, ok := outcomes[t.PageURL]; ok && r.Err != nil {
				failed = append(failed, t)
			}
		}
		if len(failed) == 0 {
			break
		}
		if backoff := o.downloadPolicy().Backoff; backoff != nil {
			if err := o.sleep(ctx, backoff(attempt-1)); err != nil {
				break
			}
		}
		log.Printf("Pipeline: retrying %d failed downloads for %q", len(failed), rq.Query)
		for url, r := range o.Downloader.Run(ctx, failed, queryDir) {
			outcomes[url] = r
		}
	}

	var videos []*types.AcquiredVideo
	for _, t := range targets {
		r, ok := outcomes[t.PageURL]
		if !ok {
			continue
		}
		if r.Err != nil {
			result.Errors = append(result.Errors, r.Err.Error())
			o.recordFailure(types.StageDownload, rq, r.Err, map[string]string{"url": t.PageURL})
			continue
		}
		videos = append(videos, r.Video)
	}
	return videos
}

// handleVideo processes and uploads one download, reporting whether it
// ended up in the corpus. A bundle rejected by upload validation gets
// exactly one full reprocess before the video is written off.
func (o *Orchestrator) handleVideo(ctx context.Context, rq ResearchQuery, video *types.AcquiredVideo, result *types.QueryResult) bool {
	bundle, err := o.Processor.Process(ctx, video)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		o.recordFailure(types.StageProcess, rq, err, map[string]string{"video_id": video.VideoID})
		return false
	}
	result.VideosProcessed++

	err = o.uploadBundle(ctx, rq, video, bundle)
	if errors.Is(err, upload.ErrValidation) {
		log.Printf("Pipeline: %s failed validation, reprocessing once", video.VideoID)
		bundle, err = o.Processor.Process(ctx, video)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			o.recordFailure(types.StageProcess, rq, err, map[string]string{"video_id": video.VideoID})
			return false
		}
		err = o.uploadBundle(ctx, rq, video, bundle)
	}
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		o.recordFailure(types.StageUpload, rq, err, map[string]string{"video_id": video.VideoID})
		return false
	}
	return true
}

func (o *Orchestrator) uploadBundle(ctx context.Context, rq ResearchQuery, video *types.AcquiredVideo, bundle *types.ArtifactBundle) error {
	keyFrames := o.Processor.KeyFrames(bundle)
	_, err := retry.DoValue(ctx, o.uploadPolicy(), func() (types.UploadRecord, error) {
		record, _, err := o.Persister.Upload(ctx, video, bundle, keyFrames, rq.Query)
		return record, err
	})
	return err
}

// dedupTargets drops URLs whose video ids are already stored.
func (o *Orchestrator) dedupTargets(urls []string, query string) []types.VideoTarget {
	known := map[string]bool{}
	if o.Known != nil {
		ids, err := o.Known.KnownIDs()
		if err != nil {
			log.Printf("Pipeline: known-id lookup failed, downloading everything: %v", err)
		} else {
			known = ids
		}
	}

	var targets []types.VideoTarget
	for _, u := range urls {
		if id := acquire.VideoIDFromURL(u); id != "" && known[id] {
			continue
		}
		targets = append(targets, types.VideoTarget{PageURL: u, Query: query})
	}
	return targets
}

func (o *Orchestrator) recordFailure(stage string, rq ResearchQuery, err error, details map[string]string) {
	if o.Failures == nil {
		return
	}
	record := types.FailureRecord{
		Type:       stage,
		QueryIndex: rq.Index,
		Query:      rq.Query,
		Error:      err.Error(),
		Details:    details,
	}
	if logErr := o.Failures.Append(record); logErr != nil {
		log.Printf("Pipeline: failure log write failed: %v", logErr)
	}
}

// pause waits the anti-detection delay: base plus up to base jitter.
func (o *Orchestrator) pause(ctx context.Context) error {
	base := o.Cfg.BaseDelay
	if base <= 0 {
		return nil
	}
	d := base + time.Duration(rand.Int63n(int64(base)))
	return o.sleep(ctx, d)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) searchPolicy() retry.Policy {
	p := o.SearchPolicy
	if p.MaxAttempts == 0 {
		p = retry.Policy{MaxAttempts: 3, Backoff: retry.Exponential(2 * time.Second)}
	}
	if p.Sleep == nil {
		p.Sleep = o.Sleep
	}
	return p
}

func (o *Orchestrator) downloadPolicy() retry.Policy {
	p := o.DownloadPolicy
	if p.MaxAttempts == 0 {
		p = retry.Policy{MaxAttempts: 2, Backoff: retry.Fixed(5 * time.Second)}
	}
	return p
}

func (o *Orchestrator) uploadPolicy() retry.Policy {
	p := o.UploadPolicy
	if p.MaxAttempts == 0 {
		p = retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.Exponential(2 * time.Second),
			Retryable:   func(err error) bool { return !errors.Is(err, upload.ErrValidation) },
		}
	}
	if p.Sleep == nil {
		p.Sleep = o.Sleep
	}
	return p
}
