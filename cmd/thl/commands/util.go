package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/telemetry"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/config"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/metrics"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/archive"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
)

// loadConfig loads the configuration and applies the global flags on top
// of it. A missing config file is fine: defaults plus --dir are enough to
// inspect a log.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}

	if logDir != "" {
		cfg.Log.Directory = logDir
	}
	if noChecksum {
		cfg.Log.DisableChecksums = true
	}
	if logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(logLevel)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := InitLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// startTelemetry initializes OpenTelemetry (if enabled). The returned
// function flushes pending spans.
func startTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "thl",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	shutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}, nil
}

// startProfiling initializes Pyroscope profiling (if enabled).
func startProfiling(cfg *config.Config) (func(), error) {
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "thl",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		Tags:           map[string]string{"dir": cfg.Log.Directory},
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	shutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint,
			"profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	}
	return func() {
		if err := shutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}, nil
}

// logOptions builds disklog options from configuration. Metrics are
// attached when the registry has been initialized, and the S3 archiver
// when archiving is enabled on a writable log.
func logOptions(ctx context.Context, cfg *config.Config, readOnly bool) (disklog.Options, error) {
	opts, err := thl.OptionsFromConfig(cfg.Log)
	if err != nil {
		return opts, err
	}
	opts.ReadOnly = readOnly
	if m := metrics.NewLogMetrics(cfg.Log.Directory); m != nil {
		opts.Metrics = m
	}

	if cfg.Archive.Enabled && !readOnly {
		archiver, err := archive.NewFromConfig(ctx, archive.ConfigFrom(cfg.Archive))
		if err != nil {
			return opts, err
		}
		opts.Archiver = archiver
		logger.Info("Archiving enabled", logger.KeyBucket, cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	}
	return opts, nil
}

// openLog opens the configured log directory.
func openLog(ctx context.Context, cfg *config.Config, readOnly bool) (*disklog.Log, error) {
	opts, err := logOptions(ctx, cfg, readOnly)
	if err != nil {
		return nil, err
	}
	l, err := disklog.Open(cfg.Log.Directory, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", cfg.Log.Directory, err)
	}
	return l, nil
}

func closeLog(l *disklog.Log) {
	if err := l.Close(); err != nil {
		logger.Warn("Failed to close log", logger.Dir(l.Dir()), logger.Err(err))
	}
}
