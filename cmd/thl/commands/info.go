package commands

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/cli/output"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
	"github.com/spf13/cobra"
)

var infoOutput string

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show log summary",
	Long: `Show the sequence number range, file count, and size of a log.

Examples:
  # Summarize the configured log
  thl info

  # Summarize another directory as JSON
  thl info --dir /var/lib/thl/alpha -o json`,
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().StringVarP(&infoOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// logInfo is the machine-readable form of `thl info`.
type logInfo struct {
	Directory     string        `json:"directory" yaml:"directory"`
	MinSeqno      int64         `json:"min_seqno" yaml:"min_seqno"`
	MaxSeqno      int64         `json:"max_seqno" yaml:"max_seqno"`
	ActiveSeqno   int64         `json:"active_seqno" yaml:"active_seqno"`
	Files         int           `json:"files" yaml:"files"`
	TotalBytes    int64         `json:"total_bytes" yaml:"total_bytes"`
	LastCommitted *headerOutput `json:"last_committed,omitempty" yaml:"last_committed,omitempty"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(infoOutput)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	l, err := openLog(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	defer closeLog(l)

	info, err := collectInfo(l)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format != output.FormatTable {
		return output.NewPrinter(out, format, false).Print(info)
	}

	last := "none"
	if info.LastCommitted != nil {
		last = info.LastCommitted.String()
	}
	return output.KeyValues(out, [][2]string{
		{"Directory", info.Directory},
		{"Min seqno", strconv.FormatInt(info.MinSeqno, 10)},
		{"Max seqno", strconv.FormatInt(info.MaxSeqno, 10)},
		{"Active seqno", strconv.FormatInt(info.ActiveSeqno, 10)},
		{"Files", strconv.Itoa(info.Files)},
		{"Total size", fmt.Sprintf("%s (%d bytes)", humanize.IBytes(uint64(info.TotalBytes)), info.TotalBytes)},
		{"Last committed", last},
	})
}

func collectInfo(l *disklog.Log) (*logInfo, error) {
	segs, err := l.Segments()
	if err != nil {
		return nil, err
	}
	st := l.Stats()
	info := &logInfo{
		Directory:   l.Dir(),
		MinSeqno:    st.MinSeqno,
		MaxSeqno:    st.MaxSeqno,
		ActiveSeqno: st.ActiveSeqno,
		Files:       st.FileCount,
	}
	for _, s := range segs {
		info.TotalBytes += s.Size
	}
	if h := l.LastCommittedHeader(); h != nil {
		info.LastCommitted = newHeaderOutput(h)
	}
	return info, nil
}

// headerOutput is an event header as printed by the CLI.
type headerOutput struct {
	Seqno        int64  `json:"seqno" yaml:"seqno"`
	Fragno       int16  `json:"fragno" yaml:"fragno"`
	LastFrag     bool   `json:"last_frag" yaml:"last_frag"`
	EndSeqno     int64  `json:"end_seqno,omitempty" yaml:"end_seqno,omitempty"`
	Kind         string `json:"kind" yaml:"kind"`
	Epoch        int64  `json:"epoch" yaml:"epoch"`
	SourceID     string `json:"source_id" yaml:"source_id"`
	EventID      string `json:"event_id" yaml:"event_id"`
	ShardID      string `json:"shard_id,omitempty" yaml:"shard_id,omitempty"`
	SourceTstamp string `json:"source_tstamp,omitempty" yaml:"source_tstamp,omitempty"`
}

func newHeaderOutput(h *event.Header) *headerOutput {
	o := &headerOutput{
		Seqno:    h.Seqno,
		Fragno:   h.Fragno,
		LastFrag: h.LastFrag,
		Kind:     h.Kind.String(),
		Epoch:    h.Epoch,
		SourceID: h.SourceID,
		EventID:  h.EventID,
		ShardID:  h.ShardID,
	}
	if h.IsFiltered() {
		o.EndSeqno = h.EndSeqno
	}
	if !h.SourceTstamp.IsZero() {
		o.SourceTstamp = h.SourceTstamp.UTC().Format(timeLayout)
	}
	return o
}

func (o *headerOutput) String() string {
	if o.Kind == event.KindFiltered.String() {
		return fmt.Sprintf("filtered %d-%d (epoch %d, event %s)", o.Seqno, o.EndSeqno, o.Epoch, o.EventID)
	}
	return fmt.Sprintf("seqno %d fragno %d last=%t (epoch %d, event %s)", o.Seqno, o.Fragno, o.LastFrag, o.Epoch, o.EventID)
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
