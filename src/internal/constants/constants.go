package constants

import "time"

// Timeout constants for reference server operations
const (
	// Process management timeouts
	ProcessStartTimeout    = 30 * time.Second
	ProcessShutdownTimeout = 5 * time.Second
	OutputDrainDelay       = 2 * time.Second

	// Request timeouts
	DefaultRequestTimeout = 60 * time.Second
	HandshakeTimeout      = 10 * time.Second
	CloseGracePeriod      = time.Second
)

// Release feed and download constants
const (
	FeedRequestTimeout    = 30 * time.Second
	DownloadTimeout       = 10 * time.Minute
	ResponseHeaderTimeout = 30 * time.Second
	ExpectContinueTimeout = 10 * time.Second
)

// File watching constants
const (
	// FileWatchDebounceDelay groups the burst of writes Unity makes when it
	// regenerates project files.
	FileWatchDebounceDelay = 500 * time.Millisecond
)
