package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"feeder/internal/bundle"
)

const (
	defaultCoordinatorPort  = 7001
	defaultWorkerPort       = 7101
	defaultDataDir          = "data"
	defaultFilesPerBundle   = 5
	defaultMaxRetries       = 5
	defaultLoopPause        = 60 * time.Second
	defaultPendingHangTime  = 600 * time.Second
	defaultMonitorInterval  = time.Second
	defaultHighWater        = 500
	defaultMemThreshold     = 0.80
	defaultBackpressure     = 30 * time.Second
	defaultQueueSize        = 5
	defaultConcurrency      = 1
	defaultPollingInterval  = time.Second
	defaultTakeErrorMax     = 10
	defaultCompleteAttempts = 5
)

// Config describes runtime configuration for both process roles.
type Config struct {
	DataDir     string            `yaml:"data_dir"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// CoordinatorConfig configures the collecting and distributing side.
type CoordinatorConfig struct {
	Port int `yaml:"port"`
	// PublicURL is the address workers use to reach this coordinator.
	PublicURL string `yaml:"public_url"`
	// Directories are "path[:priority]" entries.
	Directories []string `yaml:"directories"`

	FilesPerBundle     int    `yaml:"files_per_bundle"`
	MaxBundleBytes     int64  `yaml:"max_bundle_bytes"`
	SkipBundles        int    `yaml:"skip_bundles"`
	SkipDotFiles       bool   `yaml:"skip_dot_files"`
	IncludeDirectories bool   `yaml:"include_directories"`
	OutputRoot         string `yaml:"output_root"`
	EatPrefix          string `yaml:"eat_prefix"`
	CaseID             string `yaml:"case_id"`
	SimpleMode         bool   `yaml:"simple_mode"`
	Sort               string `yaml:"sort"`

	Loop              bool          `yaml:"loop"`
	LoopPause         time.Duration `yaml:"loop_pause"`
	UseFileTimestamps bool          `yaml:"use_file_timestamps"`

	MaxRetries      int           `yaml:"max_retries"`
	RetryStrategy   bool          `yaml:"retry_strategy"`
	PendingHangTime time.Duration `yaml:"pending_hang_time"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	ExitWhenDone    bool          `yaml:"exit_when_done"`

	HighWater            int           `yaml:"high_water"`
	MemThreshold         float64       `yaml:"mem_threshold"`
	BackpressureInterval time.Duration `yaml:"backpressure_interval"`

	// Workers is the static initial worker list.
	Workers []string `yaml:"workers"`
	// WorkerPattern filters discovery registrations.
	WorkerPattern string `yaml:"worker_pattern"`
}

// WorkerConfig configures the pulling and processing side.
type WorkerConfig struct {
	Port int `yaml:"port"`
	// ID is the worker's own reachable URL, announced to coordinators.
	ID     string   `yaml:"id"`
	Spaces []string `yaml:"spaces"`

	QueueSize       int           `yaml:"queue_size"`
	Concurrency     int           `yaml:"concurrency"`
	PollingInterval time.Duration `yaml:"polling_interval"`
	TakePause       time.Duration `yaml:"take_pause"`
	TakeErrorMax    int           `yaml:"take_error_max"`

	CompleteAttempts int `yaml:"complete_attempts"`

	MinContentLength int64  `yaml:"min_content_length"`
	MaxContentLength int64  `yaml:"max_content_length"`
	HoldingArea      string `yaml:"holding_area"`
	DoneArea         string `yaml:"done_area"`
	ErrorArea        string `yaml:"error_area"`
	Register         bool   `yaml:"register"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir: defaultDataDir,
		Coordinator: CoordinatorConfig{
			Port:                 defaultCoordinatorPort,
			FilesPerBundle:       defaultFilesPerBundle,
			MaxBundleBytes:       -1,
			LoopPause:            defaultLoopPause,
			MaxRetries:           defaultMaxRetries,
			RetryStrategy:        true,
			PendingHangTime:      defaultPendingHangTime,
			MonitorInterval:      defaultMonitorInterval,
			HighWater:            defaultHighWater,
			MemThreshold:         defaultMemThreshold,
			BackpressureInterval: defaultBackpressure,
			SkipDotFiles:         true,
			WorkerPattern:        "*",
		},
		Worker: WorkerConfig{
			Port:             defaultWorkerPort,
			QueueSize:        defaultQueueSize,
			Concurrency:      defaultConcurrency,
			PollingInterval:  defaultPollingInterval,
			TakeErrorMax:     defaultTakeErrorMax,
			CompleteAttempts: defaultCompleteAttempts,
			Register:         true,
		},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Normalize fills zero values that have a sensible default and cleans lists.
func (c *Config) Normalize() {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	co := &c.Coordinator
	if co.Port == 0 {
		co.Port = defaultCoordinatorPort
	}
	if co.MonitorInterval <= 0 {
		co.MonitorInterval = defaultMonitorInterval
	}
	if co.BackpressureInterval <= 0 {
		co.BackpressureInterval = defaultBackpressure
	}
	if co.WorkerPattern == "" {
		co.WorkerPattern = "*"
	}
	co.Directories = normalizeList(co.Directories)
	co.Workers = normalizeList(co.Workers)

	w := &c.Worker
	if w.Port == 0 {
		w.Port = defaultWorkerPort
	}
	if w.PollingInterval <= 0 {
		w.PollingInterval = defaultPollingInterval
	}
	if w.TakeErrorMax <= 0 {
		w.TakeErrorMax = defaultTakeErrorMax
	}
	if w.CompleteAttempts <= 0 {
		w.CompleteAttempts = defaultCompleteAttempts
	}
	w.Spaces = normalizeList(w.Spaces)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var result *multierror.Error
	co := c.Coordinator
	if co.FilesPerBundle == 0 || co.FilesPerBundle > bundle.MaxUnits {
		result = multierror.Append(result, fmt.Errorf("invalid files_per_bundle: %d (must be -1 or 1..%d)", co.FilesPerBundle, bundle.MaxUnits))
	}
	if co.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("invalid max_retries: %d (must be >= 0)", co.MaxRetries))
	}
	if co.SkipBundles < 0 {
		result = multierror.Append(result, fmt.Errorf("invalid skip_bundles: %d (must be >= 0)", co.SkipBundles))
	}
	if co.MemThreshold <= 0 || co.MemThreshold > 1 {
		result = multierror.Append(result, fmt.Errorf("invalid mem_threshold: %v (must be in (0, 1])", co.MemThreshold))
	}
	if _, err := bundle.ParseSortMode(co.Sort); err != nil {
		result = multierror.Append(result, err)
	}
	for _, d := range co.Directories {
		if _, err := ParsePriorityDirectory(d); err != nil {
			result = multierror.Append(result, err)
		}
	}
	w := c.Worker
	if w.QueueSize < 1 {
		result = multierror.Append(result, fmt.Errorf("invalid queue_size: %d (must be >= 1)", w.QueueSize))
	}
	if w.Concurrency < 1 {
		result = multierror.Append(result, fmt.Errorf("invalid concurrency: %d (must be >= 1)", w.Concurrency))
	}
	return result.ErrorOrNil()
}

func normalizeList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, v := range in {
		s := strings.TrimSpace(v)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		normalized = append(normalized, s)
	}
	return normalized
}
