package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/automate/actions"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const ruleColumns = `id, name, description, dialect, condition, actions, schedule, scheduled_input, active, created_at, updated_at`

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Conditions,
// actions and scheduled input are stored as JSONB.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(ctx context.Context, rule *Rule) error {
	cond, acts, input, err := encodeRule(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rule.ID, rule.Name, rule.Description, string(rule.EffectiveDialect()), string(cond), string(acts),
		rule.Schedule, jsonOrNull(input), rule.Active, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
		}
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresRuleStore) GetByName(ctx context.Context, name string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE name = $1`, name)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: name %q", ErrRuleNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresRuleStore) List(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY created_at ASC, id ASC`)
}

// ListActive returns all active rules, oldest first
func (s *PostgresRuleStore) ListActive(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM rules WHERE active = true ORDER BY created_at ASC, id ASC`)
}

func (s *PostgresRuleStore) ListScheduled(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE active = true AND schedule IS NOT NULL AND schedule <> ''
		ORDER BY created_at ASC, id ASC
	`)
}

// Update modifies an existing rule, keeping its CreatedAt
func (s *PostgresRuleStore) Update(ctx context.Context, rule *Rule) error {
	cond, acts, input, err := encodeRule(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, `
		UPDATE rules
		SET name = $1, description = $2, dialect = $3, condition = $4, actions = $5,
		    schedule = $6, scheduled_input = $7, active = $8, updated_at = $9
		WHERE id = $10
		RETURNING created_at
	`, rule.Name, rule.Description, string(rule.EffectiveDialect()), string(cond), string(acts),
		rule.Schedule, jsonOrNull(input), rule.Active, now, rule.ID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: name %q", ErrRuleExists, rule.Name)
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rule.CreatedAt = createdAt
	rule.UpdatedAt = now
	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

func (s *PostgresRuleStore) query(ctx context.Context, q string) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rulesList, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*Rule, error) {
	var (
		r                 Rule
		dialect           string
		cond, acts, input []byte
		schedule          sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &dialect, &cond, &acts,
		&schedule, &input, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	r.Dialect = Dialect(dialect)
	if schedule.Valid {
		r.Schedule = &schedule.String
	}
	if err := json.Unmarshal(cond, &r.Condition); err != nil {
		return nil, fmt.Errorf("decode condition of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(acts, &r.Actions); err != nil {
		return nil, fmt.Errorf("decode actions of %s: %w", r.ID, err)
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &r.ScheduledInput); err != nil {
			return nil, fmt.Errorf("decode scheduled input of %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func encodeRule(rule *Rule) (cond, acts, input []byte, err error) {
	if cond, err = json.Marshal(rule.Condition); err != nil {
		return nil, nil, nil, fmt.Errorf("encode condition: %w", err)
	}
	list := rule.Actions
	if list == nil {
		list = actions.List{}
	}
	if acts, err = json.Marshal(list); err != nil {
		return nil, nil, nil, fmt.Errorf("encode actions: %w", err)
	}
	if rule.ScheduledInput != nil {
		if input, err = json.Marshal(rule.ScheduledInput); err != nil {
			return nil, nil, nil, fmt.Errorf("encode scheduled input: %w", err)
		}
	}
	return cond, acts, input, nil
}

func jsonOrNull(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
