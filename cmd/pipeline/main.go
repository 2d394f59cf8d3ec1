package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/codebuildervaibhav/clipminer/internal/acquire"
	"github.com/codebuildervaibhav/clipminer/internal/browser"
	"github.com/codebuildervaibhav/clipminer/internal/cleanup"
	"github.com/codebuildervaibhav/clipminer/internal/extract"
	"github.com/codebuildervaibhav/clipminer/internal/pipeline"
	"github.com/codebuildervaibhav/clipminer/internal/search"
	"github.com/codebuildervaibhav/clipminer/internal/upload"
)

// Config represents the application configuration
type Config struct {
	Browser struct {
		Headless   bool   `yaml:"headless"`
		LocalMode  bool   `yaml:"local_mode"`
		ExecPath   string `yaml:"exec_path"`
		ProfileDir string `yaml:"profile_dir"`
	} `yaml:"browser"`

	Search struct {
		BaseURL    string `yaml:"base_url"`
		MaxResults int    `yaml:"max_results"`
	} `yaml:"search"`

	Download struct {
		Workers         int      `yaml:"workers"`
		RecycleAfter    int      `yaml:"recycle_after"`
		CaptureFallback bool     `yaml:"capture_fallback"`
		RatePerMinute   int      `yaml:"rate_per_minute"`
		CDNHostHints    []string `yaml:"cdn_host_hints"`
	} `yaml:"download"`

	Whisper struct {
		Model string `yaml:"model"`
	} `yaml:"whisper"`

	OCR struct {
		Endpoint  string `yaml:"endpoint"`
		Model     string `yaml:"model"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"ocr"`

	Storage struct {
		RunRoot      string `yaml:"run_root"`
		TempDir      string `yaml:"temp_dir"`
		Database     string `yaml:"database"`
		Bucket       string `yaml:"bucket"`
		IncludeVideo bool   `yaml:"include_video"`
	} `yaml:"storage"`

	Pipeline struct {
		QueriesCSV       string  `yaml:"queries_csv"`
		MinSuccessRatio  float64 `yaml:"min_success_ratio"`
		BaseDelaySeconds int     `yaml:"base_delay_seconds"`
		HygieneEvery     int     `yaml:"hygiene_every"`
		DiskFloorGB      int     `yaml:"disk_floor_gb"`
	} `yaml:"pipeline"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	start := flag.Int("start", 0, "first query index in the research list")
	count := flag.Int("count", 0, "number of queries to run (0 = all from start)")
	query := flag.String("query", "", "run a single ad-hoc query instead of the research list")
	maxResults := flag.Int("max-results", 0, "videos per query (overrides config)")
	workers := flag.Int("workers", 0, "parallel browser workers (overrides config)")
	model := flag.String("model", "", "whisper model size (overrides config)")
	dryRun := flag.Bool("dry-run", false, "search only, download nothing")
	resume := flag.Bool("resume", false, "skip queries recorded in progress.json")
	keep := flag.Bool("keep", false, "keep local files after upload")
	flag.Parse()

	// Secrets come from the environment; .env is a convenience.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyOverrides(config, *maxResults, *workers, *model)

	if err := cleanup.EnsureTempDirExists(config.Storage.TempDir); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}
	if err := os.MkdirAll(config.Storage.RunRoot, 0755); err != nil {
		log.Fatalf("Failed to create run root: %v", err)
	}

	queries, err := buildQueries(config, *query, *start, *count)
	if err != nil {
		log.Fatalf("Failed to load queries: %v", err)
	}
	if len(queries) == 0 {
		log.Fatal("Nothing to do: no queries selected")
	}

	runID := uuid.New().String()[:8]
	log.Printf("Pipeline run %s: %d queries, %d workers", runID, len(queries), config.Download.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("Initializing components...")

	db, err := upload.NewRecordStore(config.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	var store upload.ObjectStore
	if *dryRun {
		store = upload.NewMemoryStore()
	} else {
		store, err = upload.NewGCSStore(ctx, config.Storage.Bucket)
		if err != nil {
			log.Fatalf("Failed to initialize object storage: %v", err)
		}
	}
	defer store.Close()

	uploader := &upload.Uploader{
		Store:        store,
		Records:      db,
		KeepLocal:    *keep,
		IncludeVideo: config.Storage.IncludeVideo,
	}

	ocr := extract.NewOCRClient(ocrAPIKey())
	if config.OCR.Endpoint != "" {
		ocr.Endpoint = config.OCR.Endpoint
	}
	if config.OCR.Model != "" {
		ocr.Model = config.OCR.Model
	}
	if config.OCR.BatchSize > 0 {
		ocr.BatchSize = config.OCR.BatchSize
	}

	extractor := extract.NewExtractor(extract.NewFFmpeg(), extract.NewTranscriber(config.Whisper.Model), ocr)

	profileBase := config.Browser.ProfileDir
	sessionFactory := func(ctx context.Context, profileDir string) (browser.Session, error) {
		return browser.NewCDPSession(ctx, browser.Options{
			ProfileDir: profileDir,
			Headless:   config.Browser.Headless,
			LocalMode:  config.Browser.LocalMode,
			ExecPath:   config.Browser.ExecPath,
		})
	}

	var limiter *rate.Limiter
	if config.Download.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(config.Download.RatePerMinute)/60), 1)
	}

	pool := acquire.NewPool(acquire.PoolConfig{
		Workers:      config.Download.Workers,
		ProfileBase:  profileBase,
		RecycleAfter: config.Download.RecycleAfter,
		NewSession:   sessionFactory,
		HTTPClient:   &http.Client{Timeout: 2 * time.Minute},
		Limiter:      limiter,
		Acquire: acquire.Options{
			CaptureFallback: config.Download.CaptureFallback,
			CDNHostHints:    config.Download.CDNHostHints,
		},
	})

	// Search runs in its own session so scrolling never fights the
	// download workers over a profile.
	searchSession, err := sessionFactory(ctx, filepath.Join(profileBase, "search"))
	if err != nil {
		log.Fatalf("Failed to start search browser: %v", err)
	}
	defer searchSession.Close()
	searcher := search.NewBrowserSearcher(searchSession, config.Search.BaseURL)

	orch := pipeline.NewOrchestrator(pipeline.Config{
		RunRoot:         config.Storage.RunRoot,
		MaxResults:      config.Search.MaxResults,
		DryRun:          *dryRun,
		Resume:          *resume,
		MinSuccessRatio: config.Pipeline.MinSuccessRatio,
		BaseDelay:       time.Duration(config.Pipeline.BaseDelaySeconds) * time.Second,
		HygieneEvery:    config.Pipeline.HygieneEvery,
	})
	orch.Searcher = searcher
	orch.Downloader = pool
	orch.Processor = extractor
	orch.Persister = uploader
	orch.Known = db
	orch.Progress = pipeline.NewProgressFile(config.Storage.RunRoot)
	orch.Failures = pipeline.NewFailureLog(config.Storage.RunRoot)
	orch.Guard = pipeline.NewDiskGuard(config.Storage.RunRoot, uint64(config.Pipeline.DiskFloorGB)<<30)
	orch.Hygiene = func() {
		cleanup.ClearProfileCaches(profileBase)
		cleanup.KillOrphanBrowsers(profileBase)
	}

	scheduler := cleanup.NewScheduler(config.Storage.TempDir, profileBase,
		config.Cleanup.IntervalMinutes, config.Cleanup.MaxAgeHours)
	scheduler.Start()
	defer scheduler.Stop()

	// First signal finishes the in-flight query and stops; a second one
	// aborts hard.
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint
		log.Println("Interrupt: finishing current query, then stopping...")
		orch.Stop()
		<-sigint
		log.Println("Second interrupt: aborting")
		cancel()
	}()

	stats, runErr := orch.RunBatch(ctx, queries)
	log.Printf("Run %s finished: %d queries, %d success, %d failed",
		runID, stats.Total, stats.Success, stats.Failed)

	switch {
	case runErr == nil && orch.Stopped():
		log.Println("Batch interrupted before completion")
		os.Exit(1)
	case runErr == nil:
		os.Exit(0)
	case errors.Is(runErr, pipeline.ErrLowDisk):
		log.Printf("Stopped early: %v", runErr)
		os.Exit(1)
	default:
		log.Printf("Run failed: %v", runErr)
		os.Exit(1)
	}
}

func applyOverrides(config *Config, maxResults, workers int, model string) {
	if maxResults > 0 {
		config.Search.MaxResults = maxResults
	}
	if workers > 0 {
		config.Download.Workers = workers
	}
	if model != "" {
		config.Whisper.Model = model
	}
}

func buildQueries(config *Config, adhoc string, start, count int) ([]pipeline.ResearchQuery, error) {
	if adhoc != "" {
		return []pipeline.ResearchQuery{{Index: 0, Query: adhoc}}, nil
	}
	queries, err := pipeline.LoadQueries(config.Pipeline.QueriesCSV)
	if err != nil {
		return nil, err
	}
	return pipeline.Window(queries, start, count), nil
}

func ocrAPIKey() string {
	if key := os.Getenv("OCR_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// loadConfig loads configuration from YAML file
func loadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
