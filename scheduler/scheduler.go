// Package scheduler fires rules on their cron schedules.
//
// Each scheduled rule owns one job: a goroutine that sleeps until the next
// fire time, evaluates the rule and runs its actions. A job fires inline, so
// one rule never overlaps with itself. The job table is guarded by a single
// mutex.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/cronspec"
	"github.com/liamcoop/automate/executionlog"
	"github.com/liamcoop/automate/internal/clock"
	"github.com/liamcoop/automate/internal/logger"
	"github.com/liamcoop/automate/rules"
)

var (
	ErrNotRunning = errors.New("scheduler is not running")
	ErrClosed     = errors.New("scheduler is shut down")
)

// RuleSource is the part of the rule store the scheduler reads.
type RuleSource interface {
	Get(ctx context.Context, id string) (*rules.Rule, error)
	ListScheduled(ctx context.Context) ([]*rules.Rule, error)
}

// Evaluator decides whether a rule matches.
type Evaluator interface {
	EvaluateRule(r *rules.Rule, data map[string]any) *rules.EvaluationResult
}

// ActionRunner executes a matched rule's actions.
type ActionRunner interface {
	Run(ctx context.Context, list actions.List, input map[string]any, ectx actions.ExecutionContext) []actions.Result
}

type Option func(*Scheduler)

// WithClock sets the clock used for fire times and timestamps.
func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }

// Disabled makes Start a no-op.
func Disabled() Option { return func(s *Scheduler) { s.enabled = false } }

// Scheduler owns the job table. Create one per process with New.
type Scheduler struct {
	source    RuleSource
	evaluator Evaluator
	runner    ActionRunner
	sink      executionlog.Sink
	clock     clock.Clock
	enabled   bool

	// base is the context firings run under. It is canceled only when
	// Shutdown gives up waiting.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	closed  bool
	jobs    map[string]*job
	wg      sync.WaitGroup
}

// New creates a stopped scheduler.
func New(source RuleSource, evaluator Evaluator, runner ActionRunner, sink executionlog.Sink, opts ...Option) *Scheduler {
	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		source:    source,
		evaluator: evaluator,
		runner:    runner,
		sink:      sink,
		clock:     clock.Real{},
		enabled:   true,
		base:      base,
		cancel:    cancel,
		jobs:      make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads every active scheduled rule and starts its job. It does
// nothing when already running or disabled. A rule with a bad cron
// expression is logged and skipped; only a store failure is returned.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return ErrClosed
	case s.running:
		return nil
	case !s.enabled:
		logger.Info("scheduler disabled by configuration")
		return nil
	}

	scheduled, err := s.source.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("load scheduled rules: %w", err)
	}

	count := 0
	for _, r := range scheduled {
		sched, err := cronspec.Parse(*r.Schedule)
		if err != nil {
			logger.Warn("skipping rule with invalid schedule", "rule_id", r.ID, "schedule", *r.Schedule, "error", err)
			continue
		}
		s.replaceLocked(r.ID, sched)
		count++
	}
	s.running = true
	logger.Info("scheduler started", "jobs", count, "skipped", len(scheduled)-count)
	return nil
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ScheduleRule starts a job for rule, replacing any job it already has. An
// inactive or unscheduled rule is unscheduled instead.
func (s *Scheduler) ScheduleRule(rule *rules.Rule) error {
	if !rule.Active || !rule.IsScheduled() {
		s.UnscheduleRule(rule.ID)
		return nil
	}

	sched, err := cronspec.Parse(*rule.Schedule)
	if err != nil {
		logger.Warn("not scheduling rule", "rule_id", rule.ID, "schedule", *rule.Schedule, "error", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	s.replaceLocked(rule.ID, sched)
	logger.Debug("rule scheduled", "rule_id", rule.ID, "schedule", sched.String())
	return nil
}

// UpdateScheduledRule brings the job table in line with a changed rule. It
// is a no-op while the scheduler is stopped.
func (s *Scheduler) UpdateScheduledRule(rule *rules.Rule) error {
	if !s.IsRunning() {
		return nil
	}
	err := s.ScheduleRule(rule)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

// UnscheduleRule stops and removes the job for ruleID, if any.
func (s *Scheduler) UnscheduleRule(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[ruleID]; ok {
		j.halt()
		delete(s.jobs, ruleID)
	}
}

// Stop tears down every job. Firings already in progress finish on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	for id, j := range s.jobs {
		j.halt()
		delete(s.jobs, id)
	}
	if s.running {
		logger.Info("scheduler stopped")
	}
	s.running = false
}

// Reload stops everything and starts again from the current store contents.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// Shutdown stops all jobs and waits for in-flight firings. If ctx ends
// first, in-flight firings are canceled and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopLocked()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// TestCronExpression previews the next fire times of expr without
// scheduling anything.
func (s *Scheduler) TestCronExpression(expr string) cronspec.Preview {
	return cronspec.Test(expr, s.clock.Now(), cronspec.PreviewCount)
}

// JobStatus describes one job.
type JobStatus struct {
	RuleID       string     `json:"ruleId"`
	Schedule     string     `json:"schedule"`
	Running      bool       `json:"running"`
	Firing       bool       `json:"firing"`
	NextFireTime *time.Time `json:"nextFireTime,omitempty"`
}

// JobsStatus lists every job, ordered by rule ID.
func (s *Scheduler) JobsStatus() []JobStatus {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.status())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].RuleID < out[k].RuleID })
	return out
}

// replaceLocked stops any job for ruleID and starts a fresh one.
func (s *Scheduler) replaceLocked(ruleID string, sched *cronspec.Schedule) {
	if old, ok := s.jobs[ruleID]; ok {
		old.halt()
	}
	j := newJob(ruleID, sched)
	s.jobs[ruleID] = j
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		j.run(s)
	}()
}
