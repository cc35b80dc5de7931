package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/condition"
	"github.com/liamcoop/automate/executionlog"
	"github.com/liamcoop/automate/internal/logger"
	"github.com/liamcoop/automate/rules"
)

const maxBodyBytes = 1 << 20

type Server struct {
	app    *app
	router *chi.Mux
}

func NewServer(a *app) *Server {
	s := &Server{app: a}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/trigger", s.handleTrigger)
		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/conditions/validate", s.handleValidateCondition)
		r.Post("/actions/validate", s.handleValidateActions)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)

			r.Route("/{ruleId}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Get("/logs", s.handleRuleLogs)
			})
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/jobs", s.handleSchedulerJobs)
			r.Post("/reload", s.handleSchedulerReload)
			r.Post("/cron/test", s.handleCronTest)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger counts responses by status class and logs each request at
// debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.HTTPStatus(status)
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":    "healthy",
		"scheduler": s.app.scheduler.IsRunning(),
		"jobs":      len(s.app.scheduler.JobsStatus()),
		"counters":  logger.Snapshot(),
	}
	if s.app.db != nil {
		if err := s.app.db.PingContext(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["error"] = err.Error()
		}
	}
	respondJSON(w, status, body)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Data == nil {
		respondError(w, http.StatusBadRequest, "data is required", nil)
		return
	}

	resp, err := s.app.runner.Trigger(r.Context(), req.Data)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trigger failed", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decode(w, r, &req) {
		return
	}

	if len(req.RuleIDs) > 0 {
		results := make([]EvaluationResultResponse, 0, len(req.RuleIDs))
		for _, id := range req.RuleIDs {
			res, err := s.app.engine.Evaluate(r.Context(), id, req.Data)
			if err != nil {
				logger.Debug("rule not evaluated", "rule_id", id, "error", err)
				results = append(results, EvaluationResultResponse{RuleID: id, Error: err.Error()})
				continue
			}
			results = append(results, toEvaluationResponse(res))
		}
		respondJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	if req.Condition == nil {
		respondError(w, http.StatusBadRequest, "condition or rules is required", nil)
		return
	}
	out := s.app.runner.Test(req.Dialect, req.Condition, req.Data)
	respondJSON(w, http.StatusOK, EvaluateResponse{Matched: out.Matched, Error: out.Error, Variables: out.Variables})
}

func (s *Server) handleValidateCondition(w http.ResponseWriter, r *http.Request) {
	var req ConditionValidateRequest
	if !decode(w, r, &req) {
		return
	}

	resp := ConditionValidateResponse{Valid: true, Variables: []string{}}
	if err := condition.Validate(req.Condition); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
	} else {
		resp.Variables = condition.ExtractVariables(req.Condition)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidateActions(w http.ResponseWriter, r *http.Request) {
	var req ActionsValidateRequest
	if !decode(w, r, &req) {
		return
	}

	errs := actions.ValidateList(req.Actions)
	respondJSON(w, http.StatusOK, ActionsValidateResponse{Valid: len(errs) == 0, Errors: errs})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.engine.Store().List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if !decode(w, r, &req) {
		return
	}

	rule := req.toRule("")
	if err := s.app.engine.AddRule(r.Context(), rule); err != nil {
		respondRuleError(w, "failed to add rule", err)
		return
	}
	s.syncSchedule(rule)
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.app.engine.Store().Get(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondRuleError(w, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if !decode(w, r, &req) {
		return
	}

	rule := req.toRule(chi.URLParam(r, "ruleId"))
	if err := s.app.engine.UpdateRule(r.Context(), rule); err != nil {
		respondRuleError(w, "failed to update rule", err)
		return
	}

	stored, err := s.app.engine.Store().Get(r.Context(), rule.ID)
	if err != nil {
		respondRuleError(w, "failed to reload rule", err)
		return
	}
	s.syncSchedule(stored)
	respondJSON(w, http.StatusOK, stored)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")
	if err := s.app.engine.DeleteRule(r.Context(), ruleID); err != nil {
		respondRuleError(w, "failed to delete rule", err)
		return
	}
	s.app.scheduler.UnscheduleRule(ruleID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRuleLogs(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")
	limit := executionlog.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	recs, err := s.app.sink.List(r.Context(), ruleID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list execution logs", err)
		return
	}
	if recs == nil {
		recs = []executionlog.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": recs})
}

func (s *Server) handleSchedulerJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"running": s.app.scheduler.IsRunning(),
		"jobs":    s.app.scheduler.JobsStatus(),
	})
}

func (s *Server) handleSchedulerReload(w http.ResponseWriter, r *http.Request) {
	if err := s.app.scheduler.Reload(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload scheduler", err)
		return
	}
	s.handleSchedulerJobs(w, r)
}

func (s *Server) handleCronTest(w http.ResponseWriter, r *http.Request) {
	var req CronTestRequest
	if !decode(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusOK, s.app.scheduler.TestCronExpression(req.Expression))
}

// syncSchedule keeps the job table in line with a stored rule. A failure
// leaves the rule stored but unscheduled.
func (s *Server) syncSchedule(rule *rules.Rule) {
	if err := s.app.scheduler.UpdateScheduledRule(rule); err != nil {
		logger.Warn("rule stored but not scheduled", "rule_id", rule.ID, "error", err)
	}
}

// Helper functions
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

func respondRuleError(w http.ResponseWriter, message string, err error) {
	var ve *rules.ValidationError
	switch {
	case errors.As(err, &ve):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Details: err.Error(), Problems: ve.Problems})
	case errors.Is(err, rules.ErrRuleNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, rules.ErrRuleExists):
		respondError(w, http.StatusConflict, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}
