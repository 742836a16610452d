package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/cli/output"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/telemetry"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/record"
	"github.com/spf13/cobra"
)

// errCheckFailed makes `thl check` exit non-zero after printing its report.
var errCheckFailed = errors.New("log check failed")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify segment framing and checksums",
	Long: `Read every record of every segment and verify its framing, checksum,
and sequence order.

The first corrupt record is reported with its segment, byte offset, and the
last good seqno before it. An incomplete record at the end of the last
segment is an unfinished write and only produces a warning.

Examples:
  thl check
  thl check --dir /var/lib/thl/alpha`,
	RunE: runCheck,
}

// checkProblem locates the first corrupt record.
type checkProblem struct {
	Segment       string
	Offset        int64
	LastGoodSeqno int64
	Err           error
}

// checkReport is the result of checking a whole log.
type checkReport struct {
	Segments int
	Records  int
	Events   int
	// TailTrailing is the size of an unfinished record at the end of the
	// last segment.
	TailTrailing int
	Problem      *checkProblem
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stopTelemetry, err := startTelemetry(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	// Open without verification so that a corrupt tail can still be
	// opened and reported; checkLog does its own verification.
	verify := !cfg.Log.DisableChecksums
	cfg.Log.DisableChecksums = true
	l, err := openLog(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	defer closeLog(l)

	report, err := checkLog(cmd.Context(), l, verify)
	if err != nil {
		return err
	}

	p := output.NewPrinter(cmd.OutOrStdout(), output.FormatTable, false)
	p.Printf("Checked %d segments, %d records (%d events)\n", report.Segments, report.Records, report.Events)
	if report.TailTrailing > 0 {
		p.Warning(fmt.Sprintf("last segment ends with an incomplete record of %d bytes", report.TailTrailing))
	}
	if report.Problem != nil {
		pr := report.Problem
		p.Error(fmt.Sprintf("corrupt record in %s at offset %d (last good seqno %d): %v",
			pr.Segment, pr.Offset, pr.LastGoodSeqno, pr.Err))
		return errCheckFailed
	}
	p.Success("OK")
	return nil
}

// checkLog scans every segment of l in order. Corruption is returned in
// the report; the error is for failures to run the check at all.
func checkLog(ctx context.Context, l *disklog.Log, verify bool) (report checkReport, err error) {
	start := time.Now()
	ctx, span := telemetry.StartLogSpan(ctx, telemetry.SpanCheck, l.Dir())
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
	}()

	infos, err := l.Segments()
	if err != nil {
		return report, err
	}

	var prev *event.Header
	lastGood := int64(-1)
	for i, info := range infos {
		seg, ok := l.Segment(info.Index)
		if !ok {
			// Purged while we were looking.
			continue
		}
		report.Segments++

		res, scanErr := seg.Scan(verify, func(offset int64, rec record.Record) error {
			if rec.Type != record.TypeEvent {
				return nil
			}
			ev, err := event.Unmarshal(rec.Payload)
			if err != nil {
				return err
			}
			if err := event.CheckFollows(prev, &ev.Header); err != nil {
				return err
			}
			h := ev.Header
			prev = &h
			lastGood = h.LastSeqno()
			report.Events++
			return nil
		})
		report.Records += res.Records

		if scanErr == nil && res.Trailing > 0 {
			if i == len(infos)-1 {
				report.TailTrailing = res.Trailing
				continue
			}
			scanErr = fmt.Errorf("%d bytes of an incomplete record before the next segment", res.Trailing)
		}
		if scanErr != nil {
			report.Problem = &checkProblem{
				Segment:       info.Name,
				Offset:        res.End,
				LastGoodSeqno: lastGood,
				Err:           scanErr,
			}
			telemetry.RecordError(ctx, scanErr)
			logger.WarnCtx(ctx, "Corrupt record", logger.Segment(info.Name), logger.Offset(res.End),
				logger.Seqno(lastGood), logger.Err(scanErr))
			break
		}
	}

	logger.DebugCtx(ctx, "Log checked", logger.Files(report.Segments),
		"records", report.Records, logger.DurationMs(start))
	return report, nil
}
