package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/wrapperspb"

	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
)

func TestMarshalUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   Event
	}{
		{
			name: "full event",
			ev: Event{
				Header: Header{
					Seqno:        1234567,
					Fragno:       3,
					LastFrag:     true,
					Epoch:        42,
					SourceID:     "db1.example.com",
					EventID:      "mysql-bin.000012:0000000000012345;-1",
					ShardID:      "orders",
					SourceTstamp: time.Date(2024, 5, 1, 12, 30, 0, 123000000, time.UTC),
				},
				Payload: []byte("UPDATE orders SET state = 'shipped'"),
			},
		},
		{
			name: "minimal event",
			ev:   Event{Header: Header{Seqno: 0}},
		},
		{
			name: "filtered range",
			ev:   Event{Header: NewFilteredRange(10, 20, 3, "src", "evt")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Unmarshal(tt.ev.Marshal())
			require.NoError(t, err)
			assert.Equal(t, tt.ev.Header, got.Header)
			assert.Equal(t, len(tt.ev.Payload), len(got.Payload))
			if len(tt.ev.Payload) > 0 {
				assert.Equal(t, tt.ev.Payload, got.Payload)
			}
		})
	}
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	t.Parallel()

	ev := Event{Header: Header{Seqno: 5, LastFrag: true}, Payload: []byte("x")}
	b := ev.Marshal()
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "from a newer writer")

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Seqno)
	assert.Equal(t, []byte("x"), got.Payload)
}

func TestUnmarshal_Malformed(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte{0x08})
	require.Error(t, err)
	assert.True(t, thlerrors.IsConsistencyError(err))
}

func TestHeaderOrdering(t *testing.T) {
	t.Parallel()

	frag := Header{Seqno: 10, Fragno: 2}
	assert.True(t, frag.Before(10, 3))
	assert.False(t, frag.Before(10, 2))
	assert.True(t, frag.Before(11, 0))
	assert.False(t, frag.Before(9, 5))
	assert.True(t, frag.Matches(10, 2))
	assert.False(t, frag.Matches(10, 0))

	rng := NewFilteredRange(20, 25, 1, "", "")
	for x := int64(20); x <= 25; x++ {
		assert.True(t, rng.Covers(x))
		assert.True(t, rng.Matches(x, 0))
		assert.False(t, rng.Before(x, 0))
	}
	assert.True(t, rng.Before(26, 0))
	assert.False(t, rng.Covers(19))
	assert.Equal(t, int64(25), rng.LastSeqno())
	assert.True(t, rng.EndsTransaction())
}

func TestHeaderValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, (&Header{Seqno: 1}).Validate())
	assert.Error(t, (&Header{Seqno: -1}).Validate())
	assert.Error(t, (&Header{Seqno: 1, Fragno: -1}).Validate())

	bad := NewFilteredRange(5, 4, 0, "", "")
	assert.Error(t, bad.Validate())
	notLast := NewFilteredRange(5, 6, 0, "", "")
	notLast.LastFrag = false
	assert.Error(t, notLast.Validate())
}

func TestCheckFollows(t *testing.T) {
	t.Parallel()

	open := &Header{Seqno: 25, Fragno: 0}
	closed := &Header{Seqno: 25, Fragno: 1, LastFrag: true}
	rng := NewFilteredRange(30, 40, 0, "", "")

	tests := []struct {
		name string
		prev *Header
		next Header
		ok   bool
	}{
		{"first record", nil, Header{Seqno: 7}, true},
		{"first record must start at fragno 0", nil, Header{Seqno: 7, Fragno: 1}, false},
		{"decreasing seqno", open, Header{Seqno: 24}, false},
		{"next fragment", open, Header{Seqno: 25, Fragno: 1}, true},
		{"repeated fragment", open, Header{Seqno: 25, Fragno: 0}, false},
		{"after last fragment", closed, Header{Seqno: 25, Fragno: 2}, false},
		{"new transaction", closed, Header{Seqno: 26}, true},
		{"new transaction not at fragno 0", closed, Header{Seqno: 26, Fragno: 1}, false},
		{"inside filtered range", &rng, Header{Seqno: 35}, false},
		{"after filtered range", &rng, Header{Seqno: 41}, true},
		{"filtered range inside open transaction", open, NewFilteredRange(25, 26, 0, "", ""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CheckFollows(tt.prev, &tt.next)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, thlerrors.IsConsistencyError(err))
		})
	}
}

func TestSerializers(t *testing.T) {
	t.Parallel()

	t.Run("raw", func(t *testing.T) {
		t.Parallel()
		var s Serializer[[]byte] = Raw{}
		b, err := s.Serialize([]byte("abc"))
		require.NoError(t, err)
		out, err := s.Deserialize(b)
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), out)
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		type rowChange struct {
			Table string         `json:"table"`
			Op    string         `json:"op"`
			Row   map[string]any `json:"row"`
		}
		var s Serializer[rowChange] = JSON[rowChange]{}
		in := rowChange{Table: "orders", Op: "insert", Row: map[string]any{"id": float64(7)}}
		b, err := s.Serialize(in)
		require.NoError(t, err)
		out, err := s.Deserialize(b)
		require.NoError(t, err)
		assert.Equal(t, in, out)

		_, err = s.Deserialize([]byte("{"))
		assert.Error(t, err)
	})

	t.Run("protobuf", func(t *testing.T) {
		t.Parallel()
		var s Serializer[*wrapperspb.StringValue] = Proto[*wrapperspb.StringValue]{
			New: func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} },
		}
		b, err := s.Serialize(wrapperspb.String("begin; commit;"))
		require.NoError(t, err)
		out, err := s.Deserialize(b)
		require.NoError(t, err)
		assert.Equal(t, "begin; commit;", out.GetValue())
	})
}

func TestCompileFilter(t *testing.T) {
	t.Parallel()

	h := &Header{Seqno: 150, Fragno: 0, LastFrag: true, ShardID: "orders", SourceID: "db1"}

	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"seqno >= 100", true},
		{"seqno < 100", false},
		{`shard_id == "orders" && last_frag`, true},
		{`source_id.startsWith("db2")`, false},
		{"!filtered", true},
	}
	for _, tt := range tests {
		pred, err := CompileFilter(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, pred(h), tt.expr)
	}

	rng := NewFilteredRange(1, 9, 0, "", "")
	pred, err := CompileFilter("filtered && end_seqno == 9")
	require.NoError(t, err)
	assert.True(t, pred(&rng))

	_, err = CompileFilter("seqno +")
	assert.Error(t, err)
	_, err = CompileFilter("seqno + 1")
	assert.Error(t, err, "non-boolean expressions are rejected")
	_, err = CompileFilter("unknown_field == 1")
	assert.Error(t, err)
}
