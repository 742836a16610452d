package config

import (
	"strings"
	"time"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/bytesize"
)

// DefaultLogDirectory is where the log lives when nothing else is configured.
const DefaultLogDirectory = "/var/lib/thl"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//
// Durations where zero means "disabled" (flush_interval, retention) are
// left alone.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyLogDefaults(&cfg.Log)
	applyArchiveDefaults(&cfg.Archive)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyLogDefaults sets the log tuning defaults.
func applyLogDefaults(cfg *LogConfig) {
	if cfg.Directory == "" {
		cfg.Directory = DefaultLogDirectory
	}
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = 100 * bytesize.MiB
	}
	if cfg.Checksum == "" {
		cfg.Checksum = "crc32"
	}
	cfg.Checksum = strings.ToLower(cfg.Checksum)
	if cfg.Visibility == "" {
		cfg.Visibility = "strict"
	}
	cfg.Visibility = strings.ToLower(cfg.Visibility)
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RotationTimeout == 0 {
		cfg.RotationTimeout = 60 * time.Second
	}
	if cfg.PurgeInterval == 0 {
		cfg.PurgeInterval = time.Minute
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 128 * bytesize.KiB
	}
	if cfg.IndexCacheSize == 0 {
		cfg.IndexCacheSize = 100000
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Serializer == "" {
		cfg.Serializer = "raw"
	}
}

// applyArchiveDefaults sets S3 archiver defaults.
func applyArchiveDefaults(cfg *ArchiveConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	// Region falls back to the AWS default chain when empty
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
