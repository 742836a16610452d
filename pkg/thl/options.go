package thl

import (
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/config"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/record"
)

// OptionsFromConfig maps the log section of the configuration onto
// disklog options. Metrics and Archiver are left for the caller to set.
func OptionsFromConfig(cfg config.LogConfig) (disklog.Options, error) {
	opts := disklog.DefaultOptions()

	ct, err := record.ParseChecksumType(cfg.Checksum)
	if err != nil {
		return opts, err
	}
	vis, ok := disklog.ParseVisibility(cfg.Visibility)
	if !ok {
		return opts, thlerrors.NewInvalidArgumentError("unknown visibility %q", cfg.Visibility)
	}

	opts.ChecksumType = ct
	opts.Visibility = vis
	opts.DisableChecksums = cfg.DisableChecksums
	opts.FlushInterval = cfg.FlushInterval
	opts.Retention = cfg.Retention
	opts.FsyncOnCommit = cfg.FsyncOnCommit
	opts.IndexCacheSize = cfg.IndexCacheSize

	// Zero keeps the default for the rest.
	if cfg.SegmentSize > 0 {
		opts.SegmentSize = cfg.SegmentSize.Int64()
	}
	if cfg.BufferSize > 0 {
		opts.BufferSize = cfg.BufferSize.Int()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.RotationTimeout > 0 {
		opts.RotationTimeout = cfg.RotationTimeout
	}
	if cfg.PurgeInterval > 0 {
		opts.PurgeInterval = cfg.PurgeInterval
	}
	if cfg.PollInterval > 0 {
		opts.PollInterval = cfg.PollInterval
	}
	return opts, nil
}
