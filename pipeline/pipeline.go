// Package pipeline is the manual trigger path: evaluate every active rule
// against a submitted record and run the actions of the ones that match.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/condition"
	"github.com/liamcoop/automate/executionlog"
	"github.com/liamcoop/automate/internal/clock"
	"github.com/liamcoop/automate/rules"
)

// Engine is the rule evaluation surface the runner needs.
type Engine interface {
	EvaluateRule(r *rules.Rule, data map[string]any) *rules.EvaluationResult
	ActiveRules(ctx context.Context) ([]*rules.Rule, error)
}

// ActionRunner executes a matched rule's actions.
type ActionRunner interface {
	Run(ctx context.Context, list actions.List, input map[string]any, ectx actions.ExecutionContext) []actions.Result
}

// Runner wires evaluation, action execution and the execution log together.
type Runner struct {
	engine Engine
	runner ActionRunner
	sink   executionlog.Sink
	clock  clock.Clock
}

type Option func(*Runner)

func WithClock(c clock.Clock) Option { return func(r *Runner) { r.clock = c } }

func NewRunner(engine Engine, runner ActionRunner, sink executionlog.Sink, opts ...Option) *Runner {
	r := &Runner{engine: engine, runner: runner, sink: sink, clock: clock.Real{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RuleOutcome is what one rule did with a triggered record.
type RuleOutcome struct {
	RuleID     string           `json:"ruleId"`
	RuleName   string           `json:"ruleName"`
	Matched    bool             `json:"matched"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"durationMs"`
	Actions    []actions.Result `json:"actions,omitempty"`
}

// TriggerResponse holds one outcome per active rule, in store order.
type TriggerResponse struct {
	EventID   string        `json:"eventId"`
	Timestamp time.Time     `json:"timestamp"`
	Evaluated int           `json:"evaluated"`
	Matched   int           `json:"matched"`
	Results   []RuleOutcome `json:"results"`
}

// Trigger evaluates data against every active rule and runs the actions of
// each match. A failing rule or action is reported in its outcome and never
// stops the others; only loading the rules can fail the call.
func (r *Runner) Trigger(ctx context.Context, data map[string]any) (*TriggerResponse, error) {
	active, err := r.engine.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}

	resp := &TriggerResponse{
		EventID:   uuid.NewString(),
		Timestamp: r.clock.Now(),
		Evaluated: len(active),
		Results:   make([]RuleOutcome, 0, len(active)),
	}
	for _, rule := range active {
		out := r.fire(ctx, rule, data, resp)
		if out.Matched {
			resp.Matched++
		}
		resp.Results = append(resp.Results, out)
	}
	return resp, nil
}

func (r *Runner) fire(ctx context.Context, rule *rules.Rule, data map[string]any, resp *TriggerResponse) RuleOutcome {
	start := r.clock.Now()
	res := r.engine.EvaluateRule(rule, data)
	out := RuleOutcome{RuleID: rule.ID, RuleName: rule.Name, Matched: res.Matched}
	if res.Error != nil {
		out.Error = res.Error.Error()
	}

	if res.Matched {
		out.Actions = r.runner.Run(ctx, rule.Actions, data, actions.ExecutionContext{
			EventID:   resp.EventID,
			RuleID:    rule.ID,
			RuleName:  rule.Name,
			Trigger:   executionlog.TriggerManual,
			Timestamp: resp.Timestamp,
		})
	}
	out.DurationMs = r.clock.Now().Sub(start).Milliseconds()

	executionlog.Write(ctx, r.sink, executionlog.Record{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Trigger:    executionlog.TriggerManual,
		Matched:    out.Matched,
		Input:      data,
		DurationMs: out.DurationMs,
		Error:      out.Error,
		Actions:    out.Actions,
	})
	return out
}

// TestResult is the answer to an ad hoc condition test.
type TestResult struct {
	Matched   bool     `json:"matched"`
	Error     string   `json:"error,omitempty"`
	Variables []string `json:"variables,omitempty"`
}

// Test evaluates an ad hoc condition against data without storing anything
// or running actions. Variables are only reported for JSON-logic conditions.
func (r *Runner) Test(dialect rules.Dialect, cond condition.Expression, data map[string]any) TestResult {
	rule := &rules.Rule{Name: "adhoc", Dialect: dialect, Condition: cond}
	res := r.engine.EvaluateRule(rule, data)

	out := TestResult{Matched: res.Matched}
	if res.Error != nil {
		out.Error = res.Error.Error()
	}
	if rule.EffectiveDialect() == rules.DialectJSONLogic {
		out.Variables = condition.ExtractVariables(cond)
	}
	return out
}
