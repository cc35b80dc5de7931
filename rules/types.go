package rules

import (
	"time"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/condition"
)

// Dialect names the language a rule condition is written in.
type Dialect string

const (
	// DialectJSONLogic conditions are JSON-logic trees. It is the default.
	DialectJSONLogic Dialect = "jsonlogic"
	// DialectCEL conditions are CEL source strings with the record bound to data.
	DialectCEL Dialect = "cel"
)

// Rule pairs a condition with the actions fired when it holds, optionally on
// a cron schedule.
type Rule struct {
	ID          string               `json:"id" yaml:"id,omitempty"`
	Name        string               `json:"name" yaml:"name"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Dialect     Dialect              `json:"dialect,omitempty" yaml:"dialect,omitempty"`
	Condition   condition.Expression `json:"condition" yaml:"condition"`
	Actions     actions.List         `json:"actions" yaml:"actions"`
	// Schedule is a cron expression. Nil means the rule only fires on trigger.
	Schedule *string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	// ScheduledInput is merged over the input synthesized for scheduled firings.
	ScheduledInput map[string]any `json:"scheduledInput,omitempty" yaml:"scheduledInput,omitempty"`
	Active         bool           `json:"active" yaml:"active"`
	CreatedAt      time.Time      `json:"createdAt" yaml:"-"`
	UpdatedAt      time.Time      `json:"updatedAt" yaml:"-"`
}

// EffectiveDialect returns the rule dialect, defaulting to JSON-logic.
func (r *Rule) EffectiveDialect() Dialect {
	if r.Dialect == "" {
		return DialectJSONLogic
	}
	return r.Dialect
}

// IsScheduled reports whether the rule carries a cron schedule.
func (r *Rule) IsScheduled() bool {
	return r.Schedule != nil && *r.Schedule != ""
}

// EvaluationResult is the outcome of evaluating one rule. Error is set when
// the condition failed to evaluate; Matched is then false.
type EvaluationResult struct {
	RuleID   string
	RuleName string
	Matched  bool
	Error    error
	Duration time.Duration
}

// Failed reports whether evaluation failed rather than evaluated false.
func (r *EvaluationResult) Failed() bool { return r.Error != nil }
