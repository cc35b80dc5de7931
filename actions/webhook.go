package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/liamcoop/automate/internal/dotpath"
	"github.com/liamcoop/automate/internal/logger"
)

// maxResponseBody caps how much of a response body is kept in a Result.
const maxResponseBody = 64 << 10

var (
	// ErrUnsupportedActionType is reported for an action whose type the
	// executor cannot run.
	ErrUnsupportedActionType = errors.New("unsupported action type")
)

// WebhookError is a failed webhook attempt. Transient failures (network
// errors, timeouts, 5xx, 429) are retried; the rest end the action.
type WebhookError struct {
	StatusCode int
	Transient  bool
	Err        error
}

func (e *WebhookError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook returned %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("webhook request failed: %v", e.Err)
}

func (e *WebhookError) Unwrap() error { return e.Err }

// classify maps a response status to an attempt outcome.
func classify(status int) *WebhookError {
	switch {
	case status < 400:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return &WebhookError{StatusCode: status, Transient: true, Err: errors.New(http.StatusText(status))}
	default:
		return &WebhookError{StatusCode: status, Err: errors.New(http.StatusText(status))}
	}
}

// ExecuteWebhook runs one webhook action to completion, retrying transient
// failures. It never returns an error: failures are reported in the Result.
func (ex *Executor) ExecuteWebhook(ctx context.Context, w *Webhook, input map[string]any, ectx ExecutionContext) Result {
	start := ex.clock.Now()
	res := Result{Type: TypeWebhook}

	body, err := ex.payload(w, input, ectx)
	if err != nil {
		res.Err = fmt.Errorf("build payload: %w", err)
		res.Error = res.Err.Error()
		return res
	}

	policy := DefaultRetryPolicy(ex.retriesFor(w))
	timeout := ex.timeoutFor(w)

	op := func() error {
		res.Attempt++
		logger.WebhookAttempt()
		status, text, err := ex.attempt(ctx, w, body, ectx, timeout)
		res.StatusCode, res.Body = status, text
		if err != nil {
			if !err.Transient {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("webhook attempt failed, retrying",
			"rule_id", ectx.RuleID, "url", w.URL, "attempt", res.Attempt, "wait", wait, "error", err)
	}

	var timer backoff.Timer
	if ex.newTimer != nil {
		timer = ex.newTimer()
	}
	err = backoff.RetryNotifyWithTimer(op, policy.backOff(ctx), notify, timer)
	res.ElapsedMs = ex.clock.Now().Sub(start).Milliseconds()

	if err != nil {
		var we *WebhookError
		if errors.As(err, &we) && we.Transient {
			err = fmt.Errorf("giving up after %d attempt(s): %w", res.Attempt, err)
		}
		res.Err = err
		res.Error = err.Error()
		logger.WebhookFailed(ectx.RuleID, w.URL, res.Attempt, err)
		return res
	}
	res.Success = true
	return res
}

// attempt performs one request bounded by timeout.
func (ex *Executor) attempt(ctx context.Context, w *Webhook, body []byte, ectx ExecutionContext, timeout time.Duration) (int, string, *WebhookError) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(w.Method)
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(actx, method, w.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", &WebhookError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ex.cfg.UserAgent)
	req.Header.Set("X-Event-ID", ectx.EventID)
	req.Header.Set("X-Rule-ID", ectx.RuleID)
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ex.client.Do(req)
	if err != nil {
		return 0, "", &WebhookError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil && resp.StatusCode < 400 {
		return resp.StatusCode, "", &WebhookError{StatusCode: resp.StatusCode, Transient: true, Err: err}
	}
	return resp.StatusCode, string(text), classify(resp.StatusCode)
}

func (ex *Executor) payload(w *Webhook, input map[string]any, ectx ExecutionContext) ([]byte, error) {
	ts := ectx.Timestamp
	if ts.IsZero() {
		ts = ex.clock.Now()
	}

	var data any = input
	if len(w.Transform) > 0 {
		mapped, err := transform(w.Transform, input)
		if err != nil {
			return nil, err
		}
		data = mapped
	}

	body := map[string]any{
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
		"data":      data,
	}
	if w.IncludeMetadata {
		body["metadata"] = map[string]any{
			"eventId":  ectx.EventID,
			"ruleId":   ectx.RuleID,
			"ruleName": ectx.RuleName,
			"trigger":  ectx.Trigger,
		}
	}
	return json.Marshal(body)
}

// transform builds a new record from dot-paths into input. Missing paths map
// to null.
func transform(mapping map[string]string, input map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(mapping))
	for key, path := range mapping {
		out[key] = dotpath.GetBytes(raw, path).Value()
	}
	return out, nil
}

func (ex *Executor) retriesFor(w *Webhook) int {
	if w.Retries != nil {
		return *w.Retries
	}
	return ex.cfg.DefaultRetries
}

func (ex *Executor) timeoutFor(w *Webhook) time.Duration {
	if w.TimeoutMs != nil && *w.TimeoutMs > 0 {
		return time.Duration(*w.TimeoutMs) * time.Millisecond
	}
	return ex.cfg.DefaultTimeout
}
