// Package actions executes the outbound effects of a matched rule.
package actions

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Type tags an action variant on the wire.
type Type string

const TypeWebhook Type = "webhook"

// Action is one outbound effect. The set of variants is closed: Webhook is
// the only executable one, Unsupported holds anything else that was decoded.
type Action interface {
	Kind() Type
	isAction()
}

// Webhook calls an HTTP endpoint with the triggering record.
type Webhook struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// TimeoutMs bounds each attempt. Nil falls back to the executor default.
	TimeoutMs *int `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Retries is the attempt budget. Nil falls back to the executor default.
	Retries *int `json:"retries,omitempty" yaml:"retries,omitempty"`
	// Transform maps output keys to dot-paths into the input record.
	Transform       map[string]string `json:"transform,omitempty" yaml:"transform,omitempty"`
	IncludeMetadata bool              `json:"includeMetadata,omitempty" yaml:"includeMetadata,omitempty"`
}

func (*Webhook) Kind() Type { return TypeWebhook }
func (*Webhook) isAction()  {}

// Unsupported is an action whose type is unknown or missing. It fails when
// executed and is reported by Validate.
type Unsupported struct {
	Type Type
	Raw  json.RawMessage
}

func (u *Unsupported) Kind() Type { return u.Type }
func (*Unsupported) isAction()    {}

// List is an ordered action list with a type-tagged JSON form:
// [{"type":"webhook","url":...}].
type List []Action

func (l List) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for i, a := range l {
		raw, err := encodeAction(a)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func (l *List) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	list := make(List, 0, len(raws))
	for i, raw := range raws {
		a, err := decodeAction(raw)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		list = append(list, a)
	}
	*l = list
	return nil
}

// UnmarshalYAML decodes the same shape from YAML rule files.
func (l *List) UnmarshalYAML(value *yaml.Node) error {
	var generic []map[string]any
	if err := value.Decode(&generic); err != nil {
		return err
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	return l.UnmarshalJSON(raw)
}

func encodeAction(a Action) ([]byte, error) {
	switch v := a.(type) {
	case *Webhook:
		type wire Webhook
		return json.Marshal(struct {
			Type Type `json:"type"`
			*wire
		}{TypeWebhook, (*wire)(v)})
	case *Unsupported:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
		return json.Marshal(map[string]any{"type": v.Type})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedActionType, a)
	}
}

func decodeAction(raw json.RawMessage) (Action, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case TypeWebhook:
		var w Webhook
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return &w, nil
	default:
		return &Unsupported{Type: head.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// ExecutionContext identifies what triggered an action run.
type ExecutionContext struct {
	EventID   string
	RuleID    string
	RuleName  string
	Trigger   string
	Timestamp time.Time
}

// Result is the outcome of one action. Exactly one is produced per action.
type Result struct {
	Type       Type   `json:"type"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`
	Attempt    int    `json:"attempt"`
	ElapsedMs  int64  `json:"elapsedMs"`
	Error      string `json:"error,omitempty"`
	Err        error  `json:"-"`
}
