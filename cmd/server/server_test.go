package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/executionlog"
	"github.com/liamcoop/automate/internal/config"
	"github.com/liamcoop/automate/internal/logger"
)

func init() { logger.Discard() }

func newTestServer(t *testing.T) (*Server, *app) {
	t.Helper()
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, a.scheduler.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.scheduler.Shutdown(ctx)
		_ = a.Close()
	})
	return NewServer(a), a
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func ruleBody(name, target string) map[string]any {
	return map[string]any{
		"name":      name,
		"condition": map[string]any{">": []any{map[string]any{"var": "amount"}, 1000}},
		"actions":   []any{map[string]any{"type": "webhook", "url": target}},
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["scheduler"])
}

func TestRuleLifecycle(t *testing.T) {
	s, a := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/rules", ruleBody("big orders", "https://hooks.example.com/big"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	id := created["id"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, true, created["active"])

	rec = do(t, s, http.MethodPost, "/api/v1/rules", ruleBody("big orders", "https://hooks.example.com/big"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/rules/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "big orders", decodeBody(t, rec)["name"])

	update := ruleBody("big orders", "https://hooks.example.com/big")
	update["schedule"] = "0 */5 * * * *"
	rec = do(t, s, http.MethodPut, "/api/v1/rules/"+id, update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, a.scheduler.JobsStatus(), 1)

	rec = do(t, s, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["rules"], 1)

	rec = do(t, s, http.MethodDelete, "/api/v1/rules/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, a.scheduler.JobsStatus())

	rec = do(t, s, http.MethodGet, "/api/v1/rules/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRuleValidation(t *testing.T) {
	s, _ := newTestServer(t)

	body := ruleBody("", "ftp://nowhere")
	body["schedule"] = "not cron"
	rec := do(t, s, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, len(resp.Problems), 3)

	rec = do(t, s, http.MethodPost, "/api/v1/rules", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerFiresWebhookAndLogs(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/v1/rules", ruleBody("big orders", target.URL))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody(t, rec)["id"].(string)

	rec = do(t, s, http.MethodPost, "/api/v1/trigger", map[string]any{"data": map[string]any{"amount": 1500}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["matched"])
	assert.Equal(t, int32(1), hits.Load())

	rec = do(t, s, http.MethodGet, "/api/v1/rules/"+id+"/logs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs struct {
		Logs []executionlog.Record `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs.Logs, 1)
	assert.True(t, logs.Logs[0].Matched)
	assert.Equal(t, executionlog.TriggerManual, logs.Logs[0].Trigger)

	rec = do(t, s, http.MethodGet, "/api/v1/rules/"+id+"/logs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/trigger", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluate(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/evaluate", map[string]any{
		"condition": map[string]any{"in": []any{"vip", map[string]any{"var": "user.tags"}}},
		"data":      map[string]any{"user": map[string]any{"tags": []any{"vip"}}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp EvaluateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Matched)
	assert.Equal(t, []string{"user.tags"}, resp.Variables)

	rec = do(t, s, http.MethodPost, "/api/v1/evaluate", map[string]any{"data": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateRuleIDsReportsMissingRules(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/rules", ruleBody("big orders", "https://hooks.example.com/big"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody(t, rec)["id"].(string)

	rec = do(t, s, http.MethodPost, "/api/v1/evaluate", map[string]any{
		"rules": []string{id, "missing"},
		"data":  map[string]any{"amount": 5000},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Results []EvaluationResultResponse `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)

	assert.Equal(t, id, resp.Results[0].RuleID)
	assert.True(t, resp.Results[0].Matched)
	assert.Empty(t, resp.Results[0].Error)

	assert.Equal(t, "missing", resp.Results[1].RuleID)
	assert.False(t, resp.Results[1].Matched)
	assert.Contains(t, resp.Results[1].Error, "rule not found")
}

func TestValidateEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/conditions/validate", map[string]any{
		"condition": map[string]any{"and": []any{map[string]any{"var": "a"}, map[string]any{"var": "b.c"}}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var cv ConditionValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cv))
	assert.True(t, cv.Valid)
	assert.Equal(t, []string{"a", "b.c"}, cv.Variables)

	rec = do(t, s, http.MethodPost, "/api/v1/conditions/validate", map[string]any{"condition": map[string]any{">": []any{1}}})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cv))
	assert.False(t, cv.Valid)
	assert.NotEmpty(t, cv.Error)

	rec = do(t, s, http.MethodPost, "/api/v1/actions/validate", map[string]any{
		"actions": []any{
			map[string]any{"type": "webhook", "url": "https://ok.example.com"},
			map[string]any{"type": "webhook", "url": "https://ok.example.com", "retries": 11},
			map[string]any{"type": "email"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var av ActionsValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &av))
	assert.False(t, av.Valid)
	assert.NotContains(t, av.Errors, 0)
	assert.Contains(t, av.Errors, 1)
	assert.Contains(t, av.Errors, 2)
}

func TestSchedulerEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	body := ruleBody("nightly", "https://hooks.example.com/nightly")
	body["schedule"] = "0 2 * * *"
	rec := do(t, s, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/v1/scheduler/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["jobs"], 1)

	rec = do(t, s, http.MethodPost, "/api/v1/scheduler/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["jobs"], 1)

	rec = do(t, s, http.MethodPost, "/api/v1/scheduler/cron/test", CronTestRequest{Expression: "0 */5 * * * *"})
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decodeBody(t, rec)
	assert.Equal(t, true, preview["valid"])
	assert.Len(t, preview["nextExecutions"], 5)

	rec = do(t, s, http.MethodPost, "/api/v1/scheduler/cron/test", CronTestRequest{Expression: "bogus"})
	assert.Equal(t, false, decodeBody(t, rec)["valid"])
}

func TestReadRuleFile(t *testing.T) {
	src := `
rules:
  - name: big orders
    condition:
      ">": [{var: amount}, 1000]
    actions:
      - type: webhook
        url: https://hooks.example.com/big
        retries: 2
    active: true
  - name: nightly digest
    condition: true
    schedule: "0 2 * * *"
    scheduledInput:
      report: daily
    actions:
      - type: webhook
        url: https://hooks.example.com/digest
    active: true
`
	list, err := readRuleFile(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Empty(t, list[0].ID)
	assert.True(t, list[1].IsScheduled())
	assert.Equal(t, "daily", list[1].ScheduledInput["report"])

	var out bytes.Buffer
	assert.NoError(t, checkRules(&out, list))
	assert.Contains(t, out.String(), "2 rules, 0 invalid")

	_, err = readRuleFile(strings.NewReader("rules:\n  - nmae: typo\n"))
	assert.Error(t, err)
}

func TestImportRulesUpsert(t *testing.T) {
	_, a := newTestServer(t)
	cmd := newImportCmd(config.New(), new(string))
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)

	list, err := readRuleFile(strings.NewReader(`
rules:
  - name: big orders
    condition: {">": [{var: amount}, 1000]}
    actions: [{type: webhook, url: "https://hooks.example.com/a"}]
    active: true
`))
	require.NoError(t, err)
	require.NoError(t, importRules(cmd, a.engine, list, false))

	again, err := readRuleFile(strings.NewReader(`
rules:
  - name: big orders
    condition: {">": [{var: amount}, 5000]}
    actions: [{type: webhook, url: "https://hooks.example.com/b"}]
    active: true
`))
	require.NoError(t, err)
	assert.Error(t, importRules(cmd, a.engine, again, false))
	again[0].ID = ""
	require.NoError(t, importRules(cmd, a.engine, again, true))

	stored, err := a.engine.Store().GetByName(context.Background(), "big orders")
	require.NoError(t, err)
	require.Len(t, stored.Actions, 1)
	assert.Equal(t, "https://hooks.example.com/b", stored.Actions[0].(*actions.Webhook).URL)
}
