package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"unicode/utf8"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/cli/output"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/config"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/metrics"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
	"github.com/spf13/cobra"

	// Import prometheus metrics to register init() functions
	_ "github.com/henricavalcante/tungsten-replicator-sub005/pkg/metrics/prometheus"
)

var (
	listLow         int64
	listHigh        int64
	listFilter      string
	listHeadersOnly bool
	listOutput      string
	listFollow      bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print events",
	Long: `Print the committed events of a log in order.

Payloads are decoded with log.serializer: "raw" prints text payloads as
strings and binary ones as base64, "json" prints them as JSON values.

--filter takes a CEL expression over the header fields seqno, fragno,
last_frag, epoch, source_id, event_id, shard_id, source_tstamp (unix
millis), filtered and end_seqno.

Examples:
  # Print seqnos 100 to 200
  thl list --low 100 --high 200

  # Only the orders shard, headers only
  thl list --filter 'shard_id == "orders"' --headers

  # Tail the log as JSON lines
  thl list --follow -o jsonl`,
	RunE: runList,
}

func init() {
	listCmd.Flags().Int64Var(&listLow, "low", 0, "First seqno to print (default: start of the log)")
	listCmd.Flags().Int64Var(&listHigh, "high", 0, "Last seqno to print (default: end of the log)")
	listCmd.Flags().StringVar(&listFilter, "filter", "", "CEL expression selecting events by header")
	listCmd.Flags().BoolVar(&listHeadersOnly, "headers", false, "Print headers only")
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format (table|json|jsonl|yaml)")
	listCmd.Flags().BoolVarP(&listFollow, "follow", "f", false, "Keep printing new events until interrupted")
}

// listRange is the part of the command line that selects events.
type listRange struct {
	low, high       int64
	hasLow, hasHigh bool
	follow          bool
	headersOnly     bool
	filter          event.Predicate
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(listOutput)
	if err != nil {
		return err
	}
	r := listRange{
		low:         listLow,
		high:        listHigh,
		hasLow:      cmd.Flags().Changed("low"),
		hasHigh:     cmd.Flags().Changed("high"),
		follow:      listFollow,
		headersOnly: listHeadersOnly,
	}
	if r.hasLow && r.hasHigh && r.low > r.high {
		return fmt.Errorf("--low %d is above --high %d", r.low, r.high)
	}
	if listFilter != "" {
		if r.filter, err = event.CompileFilter(listFilter); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r.follow {
		cleanup, err := startFollowServices(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	printer := output.NewPrinter(cmd.OutOrStdout(), format, false)
	switch cfg.Log.Serializer {
	case "json":
		return listEvents[any](ctx, cfg, printer, r, event.JSON[any]{}, func(v any) any { return v })
	default:
		return listEvents[[]byte](ctx, cfg, printer, r, event.Raw{}, rawPayload)
	}
}

// startFollowServices starts the services of a long-running tailer:
// tracing, profiling and the metrics endpoint.
func startFollowServices(ctx context.Context, cfg *config.Config) (func(), error) {
	stopTelemetry, err := startTelemetry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	stopProfiling, err := startProfiling(cfg)
	if err != nil {
		stopTelemetry()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		srv := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				logger.Error("Metrics server failed", logger.Err(err))
			}
		}()
	}

	return func() {
		stopProfiling()
		stopTelemetry()
	}, nil
}

// rawPayload shows text as a string and anything else as bytes, which the
// JSON and YAML encoders print as base64.
func rawPayload(b []byte) any {
	if utf8.Valid(b) {
		return string(b)
	}
	return b
}

// eventOutput is one printed event.
type eventOutput struct {
	headerOutput `yaml:",inline"`
	Payload      any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

func listColumns(headersOnly bool) []output.Column {
	cols := []output.Column{
		{Name: "seqno", Width: 10},
		{Name: "frag", Width: 4},
		{Name: "last", Width: 5},
		{Name: "epoch", Width: 6},
		{Name: "event id", Width: 24},
		{Name: "shard", Width: 12},
		{Name: "source tstamp", Width: 29},
	}
	if !headersOnly {
		cols = append(cols, output.Column{Name: "payload"})
	}
	return cols
}

func eventRow(o *eventOutput, headersOnly bool) []string {
	seqno := strconv.FormatInt(o.Seqno, 10)
	frag := strconv.Itoa(int(o.Fragno))
	if o.Kind == event.KindFiltered.String() {
		seqno = fmt.Sprintf("%d-%d", o.Seqno, o.EndSeqno)
		frag = "-"
	}
	shard := o.ShardID
	if shard == "" {
		shard = "-"
	}
	tstamp := o.SourceTstamp
	if tstamp == "" {
		tstamp = "-"
	}
	row := []string{seqno, frag, strconv.FormatBool(o.LastFrag), strconv.FormatInt(o.Epoch, 10), o.EventID, shard, tstamp}
	if headersOnly {
		return row
	}
	switch p := o.Payload.(type) {
	case nil:
		row = append(row, "")
	case string:
		row = append(row, strconv.Quote(p))
	case []byte:
		row = append(row, fmt.Sprintf("<%d bytes>", len(p)))
	default:
		b, err := json.Marshal(p)
		if err != nil {
			row = append(row, fmt.Sprint(p))
			break
		}
		row = append(row, string(b))
	}
	return row
}

// listEvents prints the selected events of the log through a stream.
func listEvents[E any](ctx context.Context, cfg *config.Config, printer *output.Printer, r listRange,
	ser event.Serializer[E], render func(E) any) error {
	opts, err := logOptions(ctx, cfg, true)
	if err != nil {
		return err
	}
	store, err := thl.Open(cfg.Log.Directory, opts, ser)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", cfg.Log.Directory, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close log", logger.Dir(cfg.Log.Directory), logger.Err(err))
		}
	}()

	l := store.Log()
	low := r.low
	if !r.hasLow {
		low = l.MinSeqno()
	}
	if low < 0 {
		if !r.follow {
			return nil
		}
		low = 0
	}

	reader, err := store.Connect(true)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Release() }()

	if r.filter != nil {
		reader.SetReadFilter(r.filter)
	}
	found, err := reader.Seek(low, 0)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("seqno %d is not in the log (min seqno %d)", low, l.MinSeqno())
	}

	stream := printer.Stream(listColumns(r.headersOnly)...)
	emit := func(e *thl.Entry[E]) error {
		o := &eventOutput{headerOutput: *newHeaderOutput(&e.Header)}
		if !r.headersOnly && !e.IsFiltered() {
			o.Payload = render(e.Event)
		}
		return stream.Write(eventRow(o, r.headersOnly), o)
	}

	// lastSeqno is the last seqno printed, for error messages.
	lastSeqno := int64(-1)
	readErr := func(err error) error {
		if thlerrors.IsChecksumError(err) || thlerrors.IsChecksumTypeError(err) {
			return fmt.Errorf("corrupt record after seqno %d (rerun with --no-checksum to skip verification): %w",
				lastSeqno, err)
		}
		return err
	}

	if r.follow {
		for {
			e, err := reader.Next(ctx)
			switch {
			case err == nil:
			case thlerrors.IsTimeoutError(err):
				continue
			case errors.Is(err, context.Canceled):
				return nil
			default:
				return readErr(err)
			}
			if r.hasHigh && e.Seqno > r.high {
				return nil
			}
			if err := emit(e); err != nil {
				return err
			}
			lastSeqno = e.LastSeqno()
		}
	}

	// Without --follow, stop at what was committed when the command
	// started. TryNext returns nil once at each segment boundary, so two
	// in a row mean the end.
	maxSeqno := l.MaxSeqno()
	misses := 0
	for misses < 2 {
		e, err := reader.TryNext()
		if err != nil {
			return readErr(err)
		}
		if e == nil {
			misses++
			continue
		}
		misses = 0
		if r.hasHigh && e.Seqno > r.high {
			return nil
		}
		if err := emit(e); err != nil {
			return err
		}
		lastSeqno = e.LastSeqno()
		if lastSeqno >= maxSeqno && e.EndsTransaction() {
			return nil
		}
	}
	return nil
}
