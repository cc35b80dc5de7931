package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrRuleExists   = errors.New("rule already exists")
)

// RuleStore manages rule persistence and retrieval. Reads reflect committed
// state at call time.
type RuleStore interface {
	// Add a new rule. IDs and names are unique.
	Add(ctx context.Context, rule *Rule) error

	// Get a rule by ID
	Get(ctx context.Context, id string) (*Rule, error)

	// GetByName looks a rule up by its unique name
	GetByName(ctx context.Context, name string) (*Rule, error)

	// List all rules, active or not
	List(ctx context.Context) ([]*Rule, error)

	// List all active rules
	ListActive(ctx context.Context) ([]*Rule, error)

	// List active rules that carry a schedule
	ListScheduled(ctx context.Context) ([]*Rule, error)

	// Update an existing rule
	Update(ctx context.Context, rule *Rule) error

	// Delete a rule
	Delete(ctx context.Context, id string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Rules are copied in and out so callers never share state with the store.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule to the store and stamps CreatedAt/UpdatedAt
func (s *InMemoryRuleStore) Add(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrRuleExists, rule.ID)
	}
	if s.nameTaken(rule.Name, rule.ID) {
		return fmt.Errorf("%w: name %q", ErrRuleExists, rule.Name)
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = copyRule(rule)
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return copyRule(rule), nil
}

func (s *InMemoryRuleStore) GetByName(_ context.Context, name string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.rules {
		if rule.Name == name {
			return copyRule(rule), nil
		}
	}
	return nil, fmt.Errorf("%w: name %q", ErrRuleNotFound, name)
}

func (s *InMemoryRuleStore) List(_ context.Context) ([]*Rule, error) {
	return s.filter(func(*Rule) bool { return true }), nil
}

// ListActive returns all active rules, oldest first
func (s *InMemoryRuleStore) ListActive(_ context.Context) ([]*Rule, error) {
	return s.filter(func(r *Rule) bool { return r.Active }), nil
}

func (s *InMemoryRuleStore) ListScheduled(_ context.Context) ([]*Rule, error) {
	return s.filter(func(r *Rule) bool { return r.Active && r.IsScheduled() }), nil
}

// Update replaces an existing rule, keeping its CreatedAt
func (s *InMemoryRuleStore) Update(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	if s.nameTaken(rule.Name, rule.ID) {
		return fmt.Errorf("%w: name %q", ErrRuleExists, rule.Name)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	s.rules[rule.ID] = copyRule(rule)
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(s.rules, id)
	return nil
}

// nameTaken reports whether another rule already uses name. Callers hold mu.
func (s *InMemoryRuleStore) nameTaken(name, id string) bool {
	for otherID, r := range s.rules {
		if otherID != id && r.Name == name {
			return true
		}
	}
	return false
}

func (s *InMemoryRuleStore) filter(keep func(*Rule) bool) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, r := range s.rules {
		if keep(r) {
			out = append(out, copyRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// copyRule is a shallow copy with the schedule pointer detached. Condition
// and action trees are treated as immutable once stored.
func copyRule(r *Rule) *Rule {
	c := *r
	if r.Schedule != nil {
		s := *r.Schedule
		c.Schedule = &s
	}
	return &c
}
