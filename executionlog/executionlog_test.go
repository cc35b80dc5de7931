package executionlog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/internal/logger"
)

func init() { logger.Discard() }

func sinks(t *testing.T) map[string]Sink {
	t.Helper()
	bs, err := OpenBoltSink(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	return map[string]Sink{
		"memory": NewMemorySink(3),
		"bolt":   bs,
	}
}

func TestSinksListNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, sink := range sinks(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 3; i++ {
				Write(ctx, sink, Record{
					RuleID:    "r1",
					Trigger:   TriggerManual,
					Matched:   i%2 == 0,
					Input:     map[string]any{"n": float64(i)},
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				})
			}
			Write(ctx, sink, Record{RuleID: "r2", Trigger: TriggerScheduled})

			recs, err := sink.List(ctx, "r1", 2)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, float64(2), recs[0].Input["n"])
			assert.Equal(t, float64(1), recs[1].Input["n"])
			assert.NotEmpty(t, recs[0].ID)

			recs, err = sink.List(ctx, "r2", 0)
			require.NoError(t, err)
			assert.Len(t, recs, 1)

			recs, err = sink.List(ctx, "unknown", 10)
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestBoltSinkKeepsActionResults(t *testing.T) {
	ctx := context.Background()
	bs, err := OpenBoltSink(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	defer bs.Close()

	Write(ctx, bs, Record{
		RuleID:  "r1",
		Matched: true,
		Error:   "",
		Actions: []actions.Result{{Type: actions.TypeWebhook, Success: false, StatusCode: 503, Attempt: 3, Error: "giving up"}},
	})

	recs, err := bs.List(ctx, "r1", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Len(t, recs[0].Actions, 1)
	assert.Equal(t, 503, recs[0].Actions[0].StatusCode)
	assert.Equal(t, 3, recs[0].Actions[0].Attempt)
}

func TestMemorySinkBounded(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink(2)
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Record(ctx, Record{ID: fmt.Sprint(i), RuleID: "r"}))
	}

	recs, err := sink.List(ctx, "r", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "4", recs[0].ID)
	assert.Equal(t, "3", recs[1].ID)
}

type failingSink struct{ calls int }

func (f *failingSink) Record(context.Context, Record) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingSink) List(context.Context, string, int) ([]Record, error) { return nil, nil }

func TestWriteSwallowsSinkFailure(t *testing.T) {
	sink := &failingSink{}
	before := logger.LogSinkFailures.Load()

	assert.NotPanics(t, func() {
		Write(context.Background(), sink, Record{RuleID: "r"})
		Write(context.Background(), nil, Record{RuleID: "r"})
	})
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, before+1, logger.LogSinkFailures.Load())
}
