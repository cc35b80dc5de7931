// Package executionlog keeps the append-only audit trail of rule
// evaluations and the actions they fired.
package executionlog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/internal/logger"
)

// Trigger kinds.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// DefaultListLimit applies when List is called with a non-positive limit.
const DefaultListLimit = 50

// Record is one evaluation of one rule. Records are never mutated once
// written.
type Record struct {
	ID         string           `json:"id"`
	RuleID     string           `json:"ruleId"`
	RuleName   string           `json:"ruleName,omitempty"`
	Trigger    string           `json:"trigger"`
	Matched    bool             `json:"matched"`
	Input      map[string]any   `json:"input,omitempty"`
	DurationMs int64            `json:"durationMs"`
	Error      string           `json:"error,omitempty"`
	Actions    []actions.Result `json:"actions,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Sink persists execution records.
type Sink interface {
	// Record appends rec.
	Record(ctx context.Context, rec Record) error
	// List returns up to limit records for ruleID, newest first.
	List(ctx context.Context, ruleID string, limit int) ([]Record, error)
}

// Write stamps rec and hands it to sink. A sink failure is logged and
// swallowed: losing an audit entry never fails the run that produced it.
func Write(ctx context.Context, sink Sink, rec Record) {
	if sink == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, rec); err != nil {
		logger.LogSinkFailed(rec.RuleID, err)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
