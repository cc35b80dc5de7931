// Package cronspec parses the cron grammar rules are scheduled with: six
// fields with seconds first, or the classic five fields with seconds fixed at 0.
package cronspec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
)

// ErrInvalidCronExpression wraps every parse failure.
var ErrInvalidCronExpression = errors.New("invalid cron expression")

// PreviewCount is how many upcoming fire times Preview reports by default.
const PreviewCount = 5

// Schedule is a parsed cron expression. Fire times are computed in UTC.
type Schedule struct {
	source string
	expr   *cronexpr.Expression
}

// Parse accepts "sec min hour dom month dow", the five-field form without
// seconds, or an @ macro such as @hourly.
func Parse(expr string) (*Schedule, error) {
	src := strings.TrimSpace(expr)
	if src == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCronExpression)
	}

	var normalized string
	if strings.HasPrefix(src, "@") {
		normalized = src
	} else {
		fields := strings.Fields(src)
		switch len(fields) {
		case 5:
			normalized = "0 " + strings.Join(fields, " ") + " *"
		case 6:
			normalized = strings.Join(fields, " ") + " *"
		default:
			return nil, fmt.Errorf("%w: %q has %d fields, want 5 or 6", ErrInvalidCronExpression, src, len(fields))
		}
	}

	parsed, err := cronexpr.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, src, err)
	}
	if parsed.Next(time.Now().UTC()).IsZero() {
		return nil, fmt.Errorf("%w: %q never fires", ErrInvalidCronExpression, src)
	}
	return &Schedule{source: src, expr: parsed}, nil
}

// String returns the expression as written.
func (s *Schedule) String() string { return s.source }

// Next returns the first fire time strictly after from, or the zero time if
// there is none.
func (s *Schedule) Next(from time.Time) time.Time {
	return s.expr.Next(from.UTC())
}

// NextN returns up to n fire times after from.
func (s *Schedule) NextN(from time.Time, n int) []time.Time {
	times := s.expr.NextN(from.UTC(), uint(n))
	for i := range times {
		times[i] = times[i].UTC()
	}
	return times
}

// Preview is the answer to "what would this expression do".
type Preview struct {
	Valid          bool        `json:"valid"`
	NextExecutions []time.Time `json:"nextExecutions,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// Test parses expr and lists its next n fire times after from. An invalid
// expression is reported in the Preview, never as an error.
func Test(expr string, from time.Time, n int) Preview {
	s, err := Parse(expr)
	if err != nil {
		return Preview{Error: err.Error()}
	}
	return Preview{Valid: true, NextExecutions: s.NextN(from, n)}
}
