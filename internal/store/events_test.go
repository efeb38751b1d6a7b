package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datagate/internal/insight"
)

func TestWriteEvent_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := insight.Event{
		Seq:     1,
		Flow:    "flow-1",
		Kind:    insight.KindReceived,
		Schema:  "db",
		Message: "a < b & c",
		Attributes: map[string][]string{
			"query":  {"SELECT * FROM t WHERE a < 3"},
			"accept": {"text/csv", "*/*"},
		},
	}
	require.NoError(t, s.WriteEvent(ctx, e))

	events, err := s.ReadEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e, events[0])
}

func TestWriteEvent_IdempotentOnSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteEvent(ctx, insight.Event{Seq: 1, Kind: insight.KindReceived}))
	require.NoError(t, s.WriteEvent(ctx, insight.Event{Seq: 1, Kind: insight.KindFailed}))

	events, err := s.ReadEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, insight.KindReceived, events[0].Kind)
}

func TestReadEvents_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Written out of order to check ordering by seq.
	for _, e := range []insight.Event{
		{Seq: 3, Flow: "a", Kind: insight.KindExecuted, Schema: "db"},
		{Seq: 1, Flow: "a", Kind: insight.KindReceived, Schema: "db"},
		{Seq: 2, Flow: "b", Kind: insight.KindReceived, Schema: "other"},
		{Seq: 4, Kind: insight.KindDeployed, Schema: "db"},
	} {
		require.NoError(t, s.WriteEvent(ctx, e))
	}

	seqs := func(events []insight.Event) []int64 {
		var out []int64
		for _, e := range events {
			out = append(out, e.Seq)
		}
		return out
	}

	all, err := s.ReadEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, seqs(all))

	flow, err := s.ReadEvents(ctx, EventFilter{Flow: "a"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, seqs(flow))

	schema, err := s.ReadEvents(ctx, EventFilter{Schema: "db", AfterSeq: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, seqs(schema))

	limited, err := s.ReadEvents(ctx, EventFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, seqs(limited))

	none, err := s.ReadEvents(ctx, EventFilter{Flow: "missing"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMaxSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, s.WriteEvent(ctx, insight.Event{Seq: 7, Kind: insight.KindReceived}))
	seq, err = s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
}

func TestJournal_PersistsThroughStore(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	j := insight.NewJournal(s)
	em := insight.Stamp(insight.NewClock(), j)
	em.Emit(insight.Event{Flow: "f", Kind: insight.KindReceived})
	em.Emit(insight.Event{Flow: "f", Kind: insight.KindFailed, Message: "boom"})
	j.Close()
	require.NoError(t, j.Run(ctx))

	events, err := s.ReadEvents(ctx, EventFilter{Flow: "f"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, insight.KindReceived, events[0].Kind)
	assert.Equal(t, "boom", events[1].Message)
}
