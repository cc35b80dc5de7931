package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/condition"
	"github.com/liamcoop/automate/cronspec"
)

const maxNameLength = 100

var (
	ruleIDPattern     = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,99}$`)
	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// ValidationError lists every problem found in a rule.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid rule: " + strings.Join(e.Problems, "; ")
}

// ValidateRule checks a rule before it is stored and returns every problem
// found. CEL conditions are only checked for shape here; the engine compiles
// them.
func ValidateRule(r *Rule) []string {
	var problems []string

	if r.ID != "" && !ruleIDPattern.MatchString(r.ID) {
		problems = append(problems, fmt.Sprintf("id %q must be 1-100 letters, digits, '-' or '_'", r.ID))
	}
	if err := validateName(r.Name); err != nil {
		problems = append(problems, err.Error())
	}

	switch r.EffectiveDialect() {
	case DialectJSONLogic:
		if r.Condition == nil {
			problems = append(problems, "condition is required")
		} else if err := condition.Validate(r.Condition); err != nil {
			problems = append(problems, fmt.Sprintf("condition: %v", err))
		}
	case DialectCEL:
		src, ok := r.Condition.(string)
		if !ok || strings.TrimSpace(src) == "" {
			problems = append(problems, "cel condition must be a non-empty string")
		}
		for key := range r.ScheduledInput {
			if err := validateIdentifier(key); err != nil {
				problems = append(problems, fmt.Sprintf("scheduledInput key %q: %v", key, err))
			}
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown dialect %q", r.Dialect))
	}

	if len(r.Actions) == 0 {
		problems = append(problems, "at least one action is required")
	}
	for i, a := range r.Actions {
		for _, p := range actions.Validate(a) {
			problems = append(problems, fmt.Sprintf("actions[%d]: %s", i, p))
		}
	}

	if r.Schedule != nil {
		if _, err := cronspec.Parse(*r.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("schedule: %v", err))
		}
	}

	return problems
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name length %d exceeds maximum of %d characters", len(name), maxNameLength)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("name %q has leading or trailing whitespace", name)
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("name contains a non-printable character")
		}
	}
	return nil
}

// validateIdentifier checks a key that CEL conditions select with data.<key>.
func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxNameLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$")
	}
	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}

// isReservedKeyword reports CEL reserved words.
func isReservedKeyword(name string) bool {
	switch name {
	case "true", "false", "null", "in", "as", "break", "const", "continue", "else",
		"for", "function", "if", "import", "let", "loop", "package", "namespace",
		"return", "var", "void", "while":
		return true
	}
	return false
}
