package executionlog

import (
	"context"
	"sync"
)

// MemorySink keeps the most recent records per rule in memory.
type MemorySink struct {
	mu      sync.RWMutex
	perRule int
	records map[string][]Record
}

// NewMemorySink keeps at most perRule records for each rule. Older records
// are dropped first.
func NewMemorySink(perRule int) *MemorySink {
	if perRule <= 0 {
		perRule = 100
	}
	return &MemorySink{perRule: perRule, records: make(map[string][]Record)}
}

func (s *MemorySink) Record(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := append(s.records[rec.RuleID], rec)
	if len(recs) > s.perRule {
		recs = append([]Record(nil), recs[len(recs)-s.perRule:]...)
	}
	s.records[rec.RuleID] = recs
	return nil
}

func (s *MemorySink) List(_ context.Context, ruleID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[ruleID]
	limit = normalizeLimit(limit)
	out := make([]Record, 0, min(limit, len(recs)))
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}
