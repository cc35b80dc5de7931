package actions

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/automate/internal/clock"
	"github.com/liamcoop/automate/internal/logger"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config holds executor defaults, applied when an action does not override
// them.
type Config struct {
	DefaultTimeout time.Duration
	DefaultRetries int
	// MaxConcurrency bounds how many actions of one run are in flight.
	// 1 runs them sequentially.
	MaxConcurrency int
	UserAgent      string
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 10 * time.Second,
		DefaultRetries: 3,
		MaxConcurrency: 4,
		UserAgent:      "automate-webhook/1.0",
	}
}

// Executor runs action lists. It is safe for concurrent use.
type Executor struct {
	client   Doer
	cfg      Config
	clock    clock.Clock
	newTimer func() backoff.Timer
}

type Option func(*Executor)

// WithClient sets the transport. The default is a plain *http.Client; each
// attempt is bounded by its own context deadline.
func WithClient(c Doer) Option { return func(ex *Executor) { ex.client = c } }

func WithClock(c clock.Clock) Option { return func(ex *Executor) { ex.clock = c } }

// WithTimer replaces the timer used for backoff waits.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(ex *Executor) { ex.newTimer = newTimer }
}

// NewExecutor creates an executor. Zero or negative timeout and concurrency,
// an empty user agent and negative DefaultRetries take their defaults. Zero
// DefaultRetries is kept and means a single attempt.
func NewExecutor(cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.DefaultRetries < 0 {
		cfg.DefaultRetries = def.DefaultRetries
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	ex := &Executor{
		client: &http.Client{},
		cfg:    cfg,
		clock:  clock.Real{},
	}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

// Run executes every action against input and returns one Result per action
// in input order. A failing action never stops the others.
func (ex *Executor) Run(ctx context.Context, list List, input map[string]any, ectx ExecutionContext) []Result {
	if ectx.EventID == "" {
		ectx.EventID = uuid.NewString()
	}
	if ectx.Timestamp.IsZero() {
		ectx.Timestamp = ex.clock.Now()
	}

	results := make([]Result, len(list))
	var g errgroup.Group
	g.SetLimit(ex.cfg.MaxConcurrency)
	for i, a := range list {
		g.Go(func() error {
			results[i] = ex.execute(ctx, a, input, ectx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (ex *Executor) execute(ctx context.Context, a Action, input map[string]any, ectx ExecutionContext) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("action panicked: %v", r)}
			if a != nil {
				res.Type = a.Kind()
			}
			res.Error = res.Err.Error()
			logger.Error("action panicked", "rule_id", ectx.RuleID, "panic", r)
		}
	}()

	switch v := a.(type) {
	case *Webhook:
		return ex.ExecuteWebhook(ctx, v, input, ectx)
	case *Unsupported:
		err := fmt.Errorf("%w: %q", ErrUnsupportedActionType, v.Type)
		return Result{Type: v.Type, Err: err, Error: err.Error()}
	default:
		err := fmt.Errorf("%w: %T", ErrUnsupportedActionType, a)
		return Result{Err: err, Error: err.Error()}
	}
}
