package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/executionlog"
	"github.com/liamcoop/automate/internal/logger"
	"github.com/liamcoop/automate/rules"
)

// ScheduledInput is the record a scheduled firing evaluates against: the
// firing time, trigger kind and rule identity, with the rule's static
// ScheduledInput merged on top.
func ScheduledInput(r *rules.Rule, at time.Time) map[string]any {
	input := map[string]any{
		"timestamp": at.UTC().Format(time.RFC3339Nano),
		"trigger":   executionlog.TriggerScheduled,
		"ruleId":    r.ID,
		"ruleName":  r.Name,
	}
	for k, v := range r.ScheduledInput {
		input[k] = v
	}
	return input
}

// ExecuteScheduledRule runs one scheduled firing of ruleID and returns the
// execution record it wrote. Nothing escapes: errors and panics become a
// failed record.
func (s *Scheduler) ExecuteScheduledRule(ctx context.Context, ruleID string) (rec executionlog.Record) {
	start := s.clock.Now()
	rec = executionlog.Record{RuleID: ruleID, Trigger: executionlog.TriggerScheduled, CreatedAt: start}
	skip := false

	defer func() {
		if p := recover(); p != nil {
			rec.Matched = false
			rec.Error = fmt.Sprintf("scheduled execution panicked: %v", p)
		}
		if skip {
			return
		}
		rec.DurationMs = s.clock.Now().Sub(start).Milliseconds()
		failed := rec.Error != ""
		if failed {
			logger.Error("scheduled execution failed", "rule_id", ruleID, "elapsed_ms", rec.DurationMs, "error", rec.Error)
		}
		logger.ScheduledFired(failed)
		executionlog.Write(ctx, s.sink, rec)
	}()

	rule, err := s.source.Get(ctx, ruleID)
	if err != nil {
		rec.Error = fmt.Sprintf("load rule: %v", err)
		return rec
	}
	if !rule.Active {
		logger.Debug("skipping inactive scheduled rule", "rule_id", ruleID)
		skip = true
		return rec
	}
	rec.RuleName = rule.Name

	input := ScheduledInput(rule, start)
	rec.Input = input

	res := s.evaluator.EvaluateRule(rule, input)
	rec.Matched = res.Matched
	if res.Error != nil {
		rec.Error = res.Error.Error()
		return rec
	}
	if !res.Matched {
		return rec
	}

	rec.Actions = s.runner.Run(ctx, rule.Actions, input, actions.ExecutionContext{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Trigger:   executionlog.TriggerScheduled,
		Timestamp: start,
	})
	if n := failedActions(rec.Actions); n > 0 {
		rec.Error = fmt.Sprintf("%d of %d actions failed", n, len(rec.Actions))
	}
	return rec
}

func failedActions(results []actions.Result) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}
