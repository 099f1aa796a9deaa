package coordinator

import (
	"time"

	"feeder/internal/bundle"
)

const (
	defaultMaxRetries       = 5
	defaultPendingHangTime  = 600 * time.Second
	defaultMonitorInterval  = time.Second
	defaultCompletionMemory = 10 * time.Minute
	defaultCompletionCap    = 100_000
)

// Options configures a Coordinator.
type Options struct {
	// DataDir receives the status snapshot; empty disables it.
	DataDir  string
	SortMode bundle.SortMode
	// MaxRetries is how many times a failed bundle is re-queued before it
	// is discarded.
	MaxRetries int
	// RetryStrategy re-queues the pending work of workers that leave or
	// re-register.
	RetryStrategy bool
	Loop          bool
	// PendingHangTime bounds how long pending work may stay unacknowledged
	// once the outbound queue has run dry.
	PendingHangTime time.Duration
	MonitorInterval time.Duration
	// ExitWhenDone stops the coordinator once all collectors finish a
	// non-looping run.
	ExitWhenDone bool
	// CompletionMemory is how long completed ids are remembered to
	// recognize duplicate notices.
	CompletionMemory time.Duration
}

func (o *Options) normalize() {
	if o.MaxRetries < 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.PendingHangTime <= 0 {
		o.PendingHangTime = defaultPendingHangTime
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = defaultMonitorInterval
	}
	if o.CompletionMemory <= 0 {
		o.CompletionMemory = defaultCompletionMemory
	}
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:       defaultMaxRetries,
		RetryStrategy:    true,
		PendingHangTime:  defaultPendingHangTime,
		MonitorInterval:  defaultMonitorInterval,
		CompletionMemory: defaultCompletionMemory,
	}
}

// Status is a point-in-time view of the coordinator, served over HTTP and
// written to the data dir.
type Status struct {
	Time           time.Time `json:"time"`
	Outbound       int       `json:"outbound"`
	Pending        int       `json:"pending"`
	FilesSeen      int       `json:"files_seen"`
	FilesDone      int       `json:"files_done"`
	Workers        []string  `json:"workers"`
	Stopping       bool      `json:"stopping"`
	CollectorsDone bool      `json:"collectors_done"`

	FilesCollected   int64 `json:"files_collected"`
	BundlesCollected int64 `json:"bundles_collected"`
	BytesCollected   int64 `json:"bytes_collected"`
	Completed        int64 `json:"completed"`
	Failed           int64 `json:"failed"`
	Retried          int64 `json:"retried"`
	Discarded        int64 `json:"discarded"`
	Duplicates       int64 `json:"duplicates"`
	HangTimeouts     int64 `json:"hang_timeouts"`

	// TakenBy counts bundles handed to each worker host.
	TakenBy map[string]int `json:"taken_by"`
	// NoMoreWork lists hosts that were told there is nothing to take.
	NoMoreWork []string `json:"no_more_work"`
}
