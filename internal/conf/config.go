// Package conf defines the pipeline's settings struct and loads it via
// viper from an embedded default YAML file, a config file on disk, and
// environment-variable overrides.
package conf

import (
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig controls rotation for a single log output.
type LogConfig struct {
	Level      string // slog level: debug, info, warn, error
	Path       string // file path for rotated JSON logs
	MaxSizeMB  int    // lumberjack MaxSize
	MaxBackups int
	MaxAgeDays int
}

// RetryPolicy configures exponential backoff with jitter for one class
// of external call (spec.md §4.6, §5).
type RetryPolicy struct {
	MaxRetries  int           // 3-5
	BaseDelay   time.Duration // 1-5s
	MaxDelay    time.Duration // cap, 15s
	CallTimeout time.Duration // per-call timeout
}

// Settings is the single configuration object passed explicitly through
// the pipeline; there are no global singletons (spec.md §9).
type Settings struct {
	Debug bool

	Log LogConfig

	Database struct {
		Dialect string // "sqlite" or "mysql"
		DSN     string
	}

	BlobStore struct {
		Bucket   string
		RootPath string // local-filesystem implementation root
	}

	FileShare struct {
		RootPath string // local-filesystem implementation root
	}

	ASR struct {
		Endpoint string
		Retry    RetryPolicy
	}

	Reasoner struct {
		Endpoint        string
		Model           string
		PriceInputPerM  float64 // price per 1M input tokens
		PriceOutputPerM float64 // price per 1M output tokens
		Retry           RetryPolicy
	}

	Diarizer struct {
		Endpoint string
		Retry    RetryPolicy
	}

	Embedder struct {
		Endpoint string
		Retry    RetryPolicy
	}

	Splitter struct {
		TargetChunkSec  float64
		OverlapSec      float64
		SilenceWindowSec float64
		MaxSizeBytes    int64
		MaxDurationSec  float64
	}

	Voice struct {
		TargetConcatMs       int
		MaxConcatUtts        int
		MinUtteranceMs       int
		MatchThreshold       float64
		VoiceParallelWorkers int
	}

	Orchestrator struct {
		ChunkParallelism     int
		GradeParallelism     int
		VoiceParallelism     int
		GradeBatches         int
		MaxJobDurationSec    int
		MinCompletedFraction float64
		MaxMemoryGB          float64
		WorkDir              string // task-scoped scratch directory root
		DatabaseRetry        RetryPolicy
		FileShareRetry       RetryPolicy
		BlobStoreRetry       RetryPolicy
	}
}

var (
	current   *Settings
	currentMu sync.RWMutex
)

// Setting returns the process-wide settings instance. Load must be
// called first; components should otherwise receive *Settings
// explicitly rather than calling this (spec.md §9 "no singletons" is
// honored by every pipeline component — no package of this module
// calls this accessor; the logging package, too, receives *Settings
// through its Init).
func Setting() *Settings {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// setGlobal stores s as the process-wide settings instance.
func setGlobal(s *Settings) {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = s
}

// Load reads the embedded defaults, an optional config file at path,
// and environment overrides, producing a validated Settings.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaultBytes, err := configFiles.ReadFile("config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded defaults: %w", err)
	}
	if err := v.ReadConfig(newReader(defaultBytes)); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("binding environment overrides: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshalling settings: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("validating settings: %w", err)
	}

	setGlobal(settings)
	return settings, nil
}
