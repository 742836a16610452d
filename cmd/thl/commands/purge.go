package commands

import (
	"fmt"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/cli/output"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/cli/prompt"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/spf13/cobra"
)

var (
	purgeLow  int64
	purgeHigh int64
	purgeAged bool
	purgeYes  bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete events from the head or tail of the log",
	Long: `Delete events through a write cursor. The log must not have a running
writer.

  --low N    delete seqno N and everything after it (tail trim)
  --high N   delete everything up to and including seqno N (head trim)
  --aged     run one retention pass with log.retention, archiving each
             segment to S3 first when archive.enabled is set

Examples:
  # Drop the tail after a failed apply, keeping seqnos below 1000
  thl purge --low 1000

  # Drop old history without prompting
  thl purge --high 50000 --yes

  # Archive and purge aged segments from cron
  thl purge --aged --yes`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().Int64Var(&purgeLow, "low", 0, "Delete this seqno and everything after it")
	purgeCmd.Flags().Int64Var(&purgeHigh, "high", 0, "Delete everything up to and including this seqno")
	purgeCmd.Flags().BoolVar(&purgeAged, "aged", false, "Purge segments older than log.retention")
	purgeCmd.Flags().BoolVarP(&purgeYes, "yes", "y", false, "Do not ask for confirmation")
	purgeCmd.MarkFlagsMutuallyExclusive("low", "high", "aged")
	purgeCmd.MarkFlagsOneRequired("low", "high", "aged")
}

func runPurge(cmd *cobra.Command, args []string) error {
	from, to := disklog.Unbounded, disklog.Unbounded
	var label string
	switch {
	case cmd.Flags().Changed("low"):
		if purgeLow < 0 {
			return fmt.Errorf("--low must not be negative")
		}
		from = purgeLow
		label = fmt.Sprintf("Delete seqno %d and everything after it?", purgeLow)
	case cmd.Flags().Changed("high"):
		if purgeHigh < 0 {
			return fmt.Errorf("--high must not be negative")
		}
		to = purgeHigh
		label = fmt.Sprintf("Delete everything up to and including seqno %d?", purgeHigh)
	default:
		label = "Purge segments older than the retention interval?"
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if purgeAged && cfg.Log.Retention <= 0 {
		return fmt.Errorf("--aged needs log.retention to be set")
	}

	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("%s (%s)", label, cfg.Log.Directory), purgeYes)
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}
	if !ok {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return nil
	}

	ctx := cmd.Context()
	stopTelemetry, err := startTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	l, err := openLog(ctx, cfg, false)
	if err != nil {
		if thlerrors.IsConcurrencyError(err) {
			return fmt.Errorf("%w (stop the writer first)", err)
		}
		return err
	}
	defer closeLog(l)

	lc := logger.NewLogContext(l.Dir()).WithOperation("purge")
	ctx = logger.WithContext(ctx, lc)

	p := output.NewPrinter(cmd.OutOrStdout(), output.FormatTable, false)
	before := l.Stats()

	if purgeAged {
		n, err := l.PurgeAged(ctx)
		if err != nil {
			return fmt.Errorf("purge after %d segments: %w", n, err)
		}
		p.Success(fmt.Sprintf("Purged %d segments", n))
		return nil
	}

	c, err := l.Connect(false)
	if err != nil {
		return err
	}
	defer func() { _ = c.Release() }()

	if err := c.Delete(from, to); err != nil {
		return err
	}

	after := l.Stats()
	logger.InfoCtx(ctx, "Log purged",
		"before_min", before.MinSeqno, "before_max", before.MaxSeqno,
		logger.MinSeqno(after.MinSeqno), logger.MaxSeqno(after.MaxSeqno),
		logger.KeyDurationMs, lc.DurationMs())
	p.Success(fmt.Sprintf("Seqno range is now %d to %d (%d files)", after.MinSeqno, after.MaxSeqno, after.FileCount))
	return nil
}
