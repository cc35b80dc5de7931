//go:build integration

package executionlog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/executionlog"
	"github.com/liamcoop/automate/internal/pgtest"
)

func TestPostgresSink(t *testing.T) {
	ctx := context.Background()
	sink := executionlog.NewPostgresSink(pgtest.Postgres(t))

	executionlog.Write(ctx, sink, executionlog.Record{
		RuleID:  "r1",
		Trigger: executionlog.TriggerScheduled,
		Matched: true,
		Input:   map[string]any{"trigger": "scheduled"},
		Actions: []actions.Result{{Type: actions.TypeWebhook, Success: true, StatusCode: 200, Attempt: 1}},
	})
	executionlog.Write(ctx, sink, executionlog.Record{RuleID: "r1", Trigger: executionlog.TriggerManual, Error: "boom"})

	recs, err := sink.List(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "boom", recs[0].Error)
	assert.Equal(t, "scheduled", recs[1].Input["trigger"])
	assert.Equal(t, 200, recs[1].Actions[0].StatusCode)
}
