package commands

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/cli/output"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
	"github.com/spf13/cobra"
)

var indexOutput string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "List segment files",
	Long: `List the segment files of a log with the first sequence number each
one may hold, its size, and its modification time.

Examples:
  thl index
  thl index -o json`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVarP(&indexOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

type segmentOutput struct {
	Name      string `json:"name" yaml:"name"`
	Index     int64  `json:"index" yaml:"index"`
	BaseSeqno int64  `json:"base_seqno" yaml:"base_seqno"`
	Size      int64  `json:"size" yaml:"size"`
	Modified  string `json:"modified" yaml:"modified"`
}

// segmentList renders as the `thl index` table.
type segmentList []segmentOutput

func (s segmentList) Headers() []string {
	return []string{"Name", "Base Seqno", "Size", "Modified"}
}

func (s segmentList) Rows() [][]string {
	rows := make([][]string, len(s))
	for i, seg := range s {
		rows[i] = []string{
			seg.Name,
			strconv.FormatInt(seg.BaseSeqno, 10),
			humanize.IBytes(uint64(seg.Size)),
			seg.Modified,
		}
	}
	return rows
}

func newSegmentList(infos []disklog.SegmentInfo) segmentList {
	list := make(segmentList, len(infos))
	for i, s := range infos {
		list[i] = segmentOutput{
			Name:      s.Name,
			Index:     s.Index,
			BaseSeqno: s.BaseSeqno,
			Size:      s.Size,
			Modified:  s.ModTime.UTC().Format(timeLayout),
		}
	}
	return list
}

func runIndex(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(indexOutput)
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

	infos, err := l.Segments()
	if err != nil {
		return err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format, false).Print(newSegmentList(infos))
}
