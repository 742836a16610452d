package event

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Predicate decides whether a cursor returns a record. It sees the header
// only.
type Predicate func(h *Header) bool

// CompileFilter compiles a CEL expression over header fields into a
// Predicate. Available variables: seqno, fragno, last_frag, epoch,
// source_id, event_id, shard_id, source_tstamp (unix millis), filtered and
// end_seqno. An empty expression accepts everything. Records for which the
// expression fails to evaluate are rejected.
//
//	seqno >= 100 && shard_id == "orders"
func CompileFilter(expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return func(*Header) bool { return true }, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("seqno", cel.IntType),
		cel.Variable("fragno", cel.IntType),
		cel.Variable("last_frag", cel.BoolType),
		cel.Variable("epoch", cel.IntType),
		cel.Variable("source_id", cel.StringType),
		cel.Variable("event_id", cel.StringType),
		cel.Variable("shard_id", cel.StringType),
		cel.Variable("source_tstamp", cel.IntType),
		cel.Variable("filtered", cel.BoolType),
		cel.Variable("end_seqno", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("parse filter %q: %w", expr, iss.Err())
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("check filter %q: %w", expr, iss.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter %q must evaluate to bool, not %s", expr, checked.OutputType())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}

	return func(h *Header) bool {
		var tstamp int64
		if !h.SourceTstamp.IsZero() {
			tstamp = h.SourceTstamp.UnixMilli()
		}
		out, _, err := prog.Eval(map[string]any{
			"seqno":         h.Seqno,
			"fragno":        int64(h.Fragno),
			"last_frag":     h.LastFrag,
			"epoch":         h.Epoch,
			"source_id":     h.SourceID,
			"event_id":      h.EventID,
			"shard_id":      h.ShardID,
			"source_tstamp": tstamp,
			"filtered":      h.IsFiltered(),
			"end_seqno":     h.EndSeqno,
		})
		if err != nil {
			return false
		}
		b, ok := out.Value().(bool)
		return ok && b
	}, nil
}
