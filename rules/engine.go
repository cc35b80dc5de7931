package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/liamcoop/automate/condition"
	"github.com/liamcoop/automate/internal/clock"
	"github.com/liamcoop/automate/internal/logger"
)

// celCostLimit bounds the work a single CEL condition may do.
const celCostLimit = 1000000

// Engine owns rule mutation and evaluation. JSON-logic conditions are
// evaluated directly; CEL conditions are compiled once and cached by rule ID.
// Safe for concurrent use.
type Engine struct {
	env      *cel.Env
	store    RuleStore
	cache    RulesCache
	clock    clock.Clock
	programs map[string]cel.Program // ruleID -> compiled CEL program
	mu       sync.RWMutex
}

type EngineOption func(*Engine)

// WithCache replaces the default in-memory active rules cache.
func WithCache(c RulesCache) EngineOption { return func(en *Engine) { en.cache = c } }

func WithClock(c clock.Clock) EngineOption { return func(en *Engine) { en.clock = c } }

// NewEngine creates an engine over store and compiles every active CEL rule.
// The record is visible to CEL conditions as the dynamic variable data.
func NewEngine(ctx context.Context, store RuleStore, opts ...EngineOption) (*Engine, error) {
	env, err := cel.NewEnv(cel.Variable("data", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	en := &Engine{
		env:      env,
		store:    store,
		cache:    NewInMemoryRulesCache(DefaultCacheConfig()),
		clock:    clock.Real{},
		programs: make(map[string]cel.Program),
	}
	for _, opt := range opts {
		opt(en)
	}

	if err := en.CompileAllRules(ctx); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}
	return en, nil
}

// Store returns the engine's rule store.
func (en *Engine) Store() RuleStore { return en.store }

// CompileRule compiles a CEL condition and caches the program under ruleID.
// Programs are cost limited.
func (en *Engine) CompileRule(ruleID, expression string) error {
	prog, err := en.compile(expression)
	if err != nil {
		return err
	}
	en.mu.Lock()
	en.programs[ruleID] = prog
	en.mu.Unlock()
	return nil
}

func (en *Engine) compile(expression string) (cel.Program, error) {
	ast, issues := en.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := en.env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// CompileAllRules compiles all active CEL rules and primes the cache.
func (en *Engine) CompileAllRules(ctx context.Context) error {
	rules, err := en.store.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if rule.EffectiveDialect() != DialectCEL {
			continue
		}
		src, _ := rule.Condition.(string)
		if err := en.CompileRule(rule.ID, src); err != nil {
			return fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}
	}
	en.cache.Set(ctx, rules)
	return nil
}

// prepare validates r and compiles its CEL condition, returning the program
// to install once the store accepts the rule.
func (en *Engine) prepare(r *Rule) (cel.Program, error) {
	if problems := ValidateRule(r); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	if r.EffectiveDialect() != DialectCEL {
		return nil, nil
	}
	prog, err := en.compile(r.Condition.(string))
	if err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("condition: %v", err)}}
	}
	return prog, nil
}

func (en *Engine) install(id string, prog cel.Program) {
	en.mu.Lock()
	defer en.mu.Unlock()
	if prog == nil {
		delete(en.programs, id)
		return
	}
	en.programs[id] = prog
}

// AddRule validates and stores a new rule. An empty ID is assigned a UUID.
func (en *Engine) AddRule(ctx context.Context, r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	prog, err := en.prepare(r)
	if err != nil {
		return err
	}
	if err := en.store.Add(ctx, r); err != nil {
		return err
	}
	en.install(r.ID, prog)
	en.cache.Invalidate(ctx)
	return nil
}

// UpdateRule validates the new version before replacing the stored one.
func (en *Engine) UpdateRule(ctx context.Context, r *Rule) error {
	prog, err := en.prepare(r)
	if err != nil {
		return err
	}
	if err := en.store.Update(ctx, r); err != nil {
		return err
	}
	en.install(r.ID, prog)
	en.cache.Invalidate(ctx)
	return nil
}

// DeleteRule removes a rule from the store and its compiled program.
func (en *Engine) DeleteRule(ctx context.Context, ruleID string) error {
	if err := en.store.Delete(ctx, ruleID); err != nil {
		return err
	}
	en.install(ruleID, nil)
	en.cache.Invalidate(ctx)
	return nil
}

// ActiveRules returns the active rules, from cache when possible.
func (en *Engine) ActiveRules(ctx context.Context) ([]*Rule, error) {
	if rules := en.cache.Get(ctx); rules != nil {
		return rules, nil
	}
	rules, err := en.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	en.cache.Set(ctx, rules)
	return rules, nil
}

// EvaluateRule evaluates one rule's condition against data. It never fails:
// an evaluation error is reported in the result and the rule does not match.
func (en *Engine) EvaluateRule(r *Rule, data map[string]any) *EvaluationResult {
	start := en.clock.Now()
	res := &EvaluationResult{RuleID: r.ID, RuleName: r.Name}

	func() {
		defer func() {
			if p := recover(); p != nil {
				res.Matched, res.Error = false, fmt.Errorf("evaluation panicked: %v", p)
			}
		}()
		switch r.EffectiveDialect() {
		case DialectJSONLogic:
			out := condition.EvaluateDetailed(r.Condition, data)
			res.Matched, res.Error = out.Matched, out.Err
		case DialectCEL:
			res.Matched, res.Error = en.evaluateCEL(r, data)
		default:
			res.Error = fmt.Errorf("unknown dialect %q", r.Dialect)
		}
	}()

	res.Duration = en.clock.Now().Sub(start)
	if res.Error != nil {
		logger.EvaluationFailed(r.ID, res.Error)
	}
	return res
}

func (en *Engine) evaluateCEL(r *Rule, data map[string]any) (bool, error) {
	en.mu.RLock()
	prog, ok := en.programs[r.ID]
	en.mu.RUnlock()

	if !ok {
		src, isString := r.Condition.(string)
		if !isString {
			return false, errors.New("cel condition must be a string")
		}
		var err error
		if prog, err = en.compile(src); err != nil {
			return false, err
		}
		if r.ID != "" {
			en.install(r.ID, prog)
		}
	}

	if data == nil {
		data = map[string]any{}
	}
	out, _, err := prog.Eval(map[string]any{"data": data})
	if err != nil {
		return false, err
	}
	matched, _ := out.Value().(bool)
	return matched, nil
}

// Evaluate looks a rule up by ID and evaluates it. Only the lookup can fail.
func (en *Engine) Evaluate(ctx context.Context, ruleID string, data map[string]any) (*EvaluationResult, error) {
	rule, err := en.store.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return en.EvaluateRule(rule, data), nil
}

// EvaluateMany evaluates each rule independently and returns one result per
// rule in input order. A failing rule never affects the others.
func (en *Engine) EvaluateMany(rules []*Rule, data map[string]any) []*EvaluationResult {
	results := make([]*EvaluationResult, 0, len(rules))
	for _, r := range rules {
		results = append(results, en.EvaluateRule(r, data))
	}
	return results
}

// EvaluateAll evaluates every active rule against data.
func (en *Engine) EvaluateAll(ctx context.Context, data map[string]any) ([]*EvaluationResult, error) {
	rules, err := en.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	return en.EvaluateMany(rules, data), nil
}
