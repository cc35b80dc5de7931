package executionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresSink stores records in the execution_logs table.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Record(ctx context.Context, rec Record) error {
	input, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	results, err := json.Marshal(rec.Actions)
	if err != nil {
		return fmt.Errorf("encode action results: %w", err)
	}

	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (id, rule_id, rule_name, trigger, matched, input, duration_ms, error, actions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.RuleID, rec.RuleName, rec.Trigger, rec.Matched, string(input),
		rec.DurationMs, errText, string(results), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution record: %w", err)
	}
	return nil
}

func (s *PostgresSink) List(ctx context.Context, ruleID string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, rule_name, trigger, matched, input, duration_ms, error, actions, created_at
		FROM execution_logs
		WHERE rule_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, ruleID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec            Record
			input, results []byte
			errText        sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.RuleName, &rec.Trigger, &rec.Matched,
			&input, &rec.DurationMs, &errText, &results, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		rec.Error = errText.String
		if len(input) > 0 {
			if err := json.Unmarshal(input, &rec.Input); err != nil {
				return nil, fmt.Errorf("decode input of %s: %w", rec.ID, err)
			}
		}
		if len(results) > 0 {
			if err := json.Unmarshal(results, &rec.Actions); err != nil {
				return nil, fmt.Errorf("decode action results of %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution records: %w", err)
	}
	return out, nil
}
