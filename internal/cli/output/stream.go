package output

import (
	"fmt"
	"strings"
)

// Column is one column of a streamed table.
type Column struct {
	Name  string
	Width int
}

// Stream writes records one at a time, as they arrive. Tables can't be
// measured up front, so each column has a fixed width and longer values
// overflow it.
type Stream struct {
	p       *Printer
	columns []Column
	started bool
}

// Stream starts a stream. Columns are used by the table format only.
func (p *Printer) Stream(columns ...Column) *Stream {
	return &Stream{p: p, columns: columns}
}

// Write emits one record. row is the table rendering of data.
func (s *Stream) Write(row []string, data any) error {
	switch s.p.format {
	case FormatTable:
		if !s.started {
			names := make([]string, len(s.columns))
			for i, c := range s.columns {
				names[i] = strings.ToUpper(c.Name)
			}
			if err := s.writeRow(names); err != nil {
				return err
			}
		}
		s.started = true
		return s.writeRow(row)
	case FormatYAML:
		if s.started {
			if _, err := fmt.Fprintln(s.p.out, "---"); err != nil {
				return err
			}
		}
		s.started = true
		return PrintYAML(s.p.out, data)
	case FormatJSON, FormatJSONLines:
		// A stream of indented documents can't be parsed line by line.
		return PrintJSONCompact(s.p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", s.p.format)
	}
}

func (s *Stream) writeRow(values []string) error {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteString("  ")
		}
		if i < len(s.columns) && i < len(values)-1 {
			fmt.Fprintf(&b, "%-*s", s.columns[i].Width, v)
			continue
		}
		b.WriteString(v)
	}
	b.WriteByte('\n')
	_, err := s.p.out.Write([]byte(b.String()))
	return err
}
