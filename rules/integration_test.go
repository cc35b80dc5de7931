//go:build integration

package rules_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/internal/pgtest"
	"github.com/liamcoop/automate/rules"
)

func webhook() actions.List {
	retries := 2
	return actions.List{&actions.Webhook{URL: "https://hooks.example.com/x", Retries: &retries}}
}

func TestPostgresRuleStore_BasicCRUD(t *testing.T) {
	ctx := context.Background()
	store := rules.NewPostgresRuleStore(pgtest.Postgres(t))

	schedule := "0 */5 * * * *"
	ruleID := uuid.NewString()
	rule := &rules.Rule{
		ID:             ruleID,
		Name:           "big-orders",
		Condition:      map[string]any{">": []any{map[string]any{"var": "amount"}, 1000.0}},
		Actions:        webhook(),
		Schedule:       &schedule,
		ScheduledInput: map[string]any{"amount": 5000.0},
		Active:         true,
	}
	if err := store.Add(ctx, rule); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}

	if err := store.Add(ctx, &rules.Rule{ID: uuid.NewString(), Name: "big-orders", Condition: true}); !errors.Is(err, rules.ErrRuleExists) {
		t.Errorf("Expected ErrRuleExists for duplicate name, got %v", err)
	}

	got, err := store.Get(ctx, ruleID)
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if got.Dialect != rules.DialectJSONLogic {
		t.Errorf("Expected default dialect, got %q", got.Dialect)
	}
	if wh, ok := got.Actions[0].(*actions.Webhook); !ok || *wh.Retries != 2 {
		t.Errorf("Actions did not round-trip: %#v", got.Actions)
	}
	if got.ScheduledInput["amount"] != 5000.0 {
		t.Errorf("ScheduledInput did not round-trip: %v", got.ScheduledInput)
	}

	scheduled, err := store.ListScheduled(ctx)
	if err != nil || len(scheduled) != 1 {
		t.Fatalf("Expected 1 scheduled rule, got %d (%v)", len(scheduled), err)
	}

	created := got.CreatedAt
	got.Active = false
	got.Schedule = nil
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Failed to update rule: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on update")
	}

	active, _ := store.ListActive(ctx)
	if len(active) != 0 {
		t.Errorf("Expected 0 active rules, got %d", len(active))
	}

	if err := store.Delete(ctx, ruleID); err != nil {
		t.Fatalf("Failed to delete rule: %v", err)
	}
	if _, err := store.Get(ctx, ruleID); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Expected ErrRuleNotFound, got %v", err)
	}
}

func TestRedisRulesCache(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: pgtest.RedisAddr(t)})
	t.Cleanup(func() { _ = client.Close() })

	cache := rules.NewRedisRulesCache(client, "test", rules.CacheConfig{TTL: time.Minute})
	if cache.Get(ctx) != nil {
		t.Fatal("Expected a miss on an empty cache")
	}

	cache.Set(ctx, []*rules.Rule{{ID: "a", Name: "A", Condition: true, Actions: webhook(), Active: true}})
	got := cache.Get(ctx)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("Unexpected cached rules: %v", got)
	}
	if _, ok := got[0].Actions[0].(*actions.Webhook); !ok {
		t.Errorf("Actions lost their type: %#v", got[0].Actions)
	}

	cache.Invalidate(ctx)
	if cache.IsValid(ctx) {
		t.Error("Expected cache to be invalid after Invalidate()")
	}
}
