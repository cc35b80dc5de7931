package main

import (
	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/condition"
	"github.com/liamcoop/automate/rules"
)

// RuleRequest is the body of rule create and update calls.
type RuleRequest struct {
	Name           string               `json:"name"`
	Description    string               `json:"description,omitempty"`
	Dialect        rules.Dialect        `json:"dialect,omitempty"`
	Condition      condition.Expression `json:"condition"`
	Actions        actions.List         `json:"actions"`
	Schedule       *string              `json:"schedule,omitempty"`
	ScheduledInput map[string]any       `json:"scheduledInput,omitempty"`
	// Active defaults to true when omitted.
	Active *bool `json:"active,omitempty"`
}

func (req *RuleRequest) toRule(id string) *rules.Rule {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return &rules.Rule{
		ID:             id,
		Name:           req.Name,
		Description:    req.Description,
		Dialect:        req.Dialect,
		Condition:      req.Condition,
		Actions:        req.Actions,
		Schedule:       req.Schedule,
		ScheduledInput: req.ScheduledInput,
		Active:         active,
	}
}

// RulesListResponse is the response for listing rules.
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// TriggerRequest submits a record to every active rule.
type TriggerRequest struct {
	Data map[string]any `json:"data"`
}

// EvaluateRequest evaluates either an ad hoc condition or stored rules
// against data. Actions never run.
type EvaluateRequest struct {
	Dialect   rules.Dialect        `json:"dialect,omitempty"`
	Condition condition.Expression `json:"condition,omitempty"`
	RuleIDs   []string             `json:"rules,omitempty"`
	Data      map[string]any       `json:"data"`
}

// EvaluateResponse answers an ad hoc condition evaluation.
type EvaluateResponse struct {
	Matched   bool     `json:"matched"`
	Error     string   `json:"error,omitempty"`
	Variables []string `json:"variables,omitempty"`
}

// EvaluationResultResponse is one stored rule's evaluation.
type EvaluationResultResponse struct {
	RuleID     string `json:"ruleId"`
	RuleName   string `json:"ruleName"`
	Matched    bool   `json:"matched"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

func toEvaluationResponse(r *rules.EvaluationResult) EvaluationResultResponse {
	out := EvaluationResultResponse{
		RuleID:     r.RuleID,
		RuleName:   r.RuleName,
		Matched:    r.Matched,
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return out
}

// ConditionValidateRequest checks a JSON-logic condition without running it.
type ConditionValidateRequest struct {
	Condition condition.Expression `json:"condition"`
}

type ConditionValidateResponse struct {
	Valid     bool     `json:"valid"`
	Error     string   `json:"error,omitempty"`
	Variables []string `json:"variables"`
}

// ActionsValidateRequest checks an action list without running it.
type ActionsValidateRequest struct {
	Actions actions.List `json:"actions"`
}

// ActionsValidateResponse lists problems keyed by action position.
type ActionsValidateResponse struct {
	Valid  bool             `json:"valid"`
	Errors map[int][]string `json:"errors,omitempty"`
}

// CronTestRequest previews a cron expression.
type CronTestRequest struct {
	Expression string `json:"expression"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Details  string   `json:"details,omitempty"`
	Problems []string `json:"problems,omitempty"`
}
