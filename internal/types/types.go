package types

import "time"

// Query pipeline stage names, used in failure records.
const (
	StageSearch   = "search"
	StageDownload = "download"
	StageProcess  = "process"
	StageUpload   = "upload"
)

// Terminal query statuses.
const (
	StatusSuccess          = "success"
	StatusPartialSuccess   = "partial_success"
	StatusSearchFailed     = "search_failed"
	StatusDownloadFailed   = "download_failed"
	StatusProcessingFailed = "processing_failed"
	StatusUploadFailed     = "upload_failed"
	StatusFailed           = "failed"
	StatusDryRun           = "dry_run"
	StatusError            = "error"
)

// VideoTarget is one candidate video discovered by search.
type VideoTarget struct {
	PageURL string
	Query   string
}

// PageMetadata is what the acquirer scrapes from the rendered page.
// All fields are optional; missing values get defaults rather than
// failing the acquisition.
type PageMetadata struct {
	VideoID         string  `json:"video_id"`
	VideoURL        string  `json:"video_url"`
	Creator         string  `json:"creator"`
	CreatorNickname string  `json:"creator_nickname"`
	Caption         string  `json:"caption"`
	Duration        float64 `json:"duration"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
}

// AcquiredVideo is a successfully downloaded video plus its metadata.
// Invariant: MediaPath exists and is non-empty on disk.
type AcquiredVideo struct {
	VideoID     string
	PageURL     string
	MediaPath   string
	ContentType string
	Size        int64
	Metadata    PageMetadata
}

// Frame is one extracted video frame on disk.
type Frame struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"`
	Path      string  `json:"path"`
}

// Segment is a timestamped piece of the speech transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ArtifactBundle is everything extracted from one video. Paths are only
// recorded once the referenced file exists.
type ArtifactBundle struct {
	VideoID        string
	Dir            string
	Frames         []Frame
	AudioPath      string
	TranscriptText string
	Segments       []Segment
	OCREntries     map[string]string // frame file name -> detected text
	StageErrors    map[string]string // stage name -> error, for partial bundles
}

// OCRResult is the on-disk shape of ocr.json.
type OCRResult struct {
	Scenes int      `json:"scenes"`
	Items  []string `json:"items"`
}

// UploadRecord is the durable database row for one video. VideoID is the
// unique key; the insert is the commit point of the whole pipeline.
type UploadRecord struct {
	VideoID       string
	URL           string
	Author        string
	Title         string
	DurationSec   float64
	Transcript    string
	OCRText       string
	StoragePrefix string
	FrameCount    int
	Query         string
	ProcessedAt   time.Time
	UploadedAt    time.Time
}

// RunProgress is persisted to progress.json after every query so an
// interrupted batch can resume.
type RunProgress struct {
	ProcessedQueries []string `json:"processed_queries"`
	Stats            Stats    `json:"stats"`
}

// Stats are batch-level query counters.
type Stats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// FailureRecord is one entry in the append-only failures.json log.
type FailureRecord struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       string            `json:"type"`
	QueryIndex int               `json:"query_index"`
	Query      string            `json:"query"`
	Error      string            `json:"error"`
	Details    map[string]string `json:"details,omitempty"`
}

// QueryResult summarizes one query's trip through the pipeline.
type QueryResult struct {
	Index            int
	Query            string
	Status           string
	VideosFound      int
	VideosDownloaded int
	VideosProcessed  int
	VideosUploaded   int
	VideosFailed     int
	StartedAt        time.Time
	CompletedAt      time.Time
	Errors           []string
}
