package acquire

import "errors"

// Acquisition failure taxonomy. All three are retryable by the caller;
// the pool itself never retries.
var (
	// ErrBlocked means the origin rejected the fetch even with the
	// browser's cookie/header context.
	ErrBlocked = errors.New("origin blocked media fetch")
	// ErrTimeout means the page or media element never became ready.
	ErrTimeout = errors.New("media never became ready")
	// ErrEmptyCapture means the download or capture produced no usable bytes.
	ErrEmptyCapture = errors.New("empty media capture")
)
