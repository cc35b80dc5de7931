package actions

import (
	"fmt"
	"net/url"
	"strings"
)

// Allowed webhook methods.
var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

const (
	minTimeoutMs = 1000
	maxTimeoutMs = 30000
	minRetries   = 0
	maxRetries   = 10
)

// Validate checks an action and returns every problem found. An empty
// result means the action is executable.
func Validate(a Action) []string {
	var errs []string
	switch v := a.(type) {
	case nil:
		errs = append(errs, "action is required")
	case *Webhook:
		errs = validateWebhook(v)
	case *Unsupported:
		if v.Type == "" {
			errs = append(errs, "type is required")
		} else {
			errs = append(errs, fmt.Sprintf("unsupported action type %q", v.Type))
		}
	}
	return errs
}

// ValidateList validates every action and returns the problems keyed by
// position. Actions without problems are omitted.
func ValidateList(list List) map[int][]string {
	out := make(map[int][]string)
	for i, a := range list {
		if errs := Validate(a); len(errs) > 0 {
			out[i] = errs
		}
	}
	return out
}

func validateWebhook(w *Webhook) []string {
	var errs []string

	if w.URL == "" {
		errs = append(errs, "url is required")
	} else if u, err := url.Parse(w.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Sprintf("url %q must be an absolute http(s) URL", w.URL))
	}

	if w.Method != "" && !allowedMethods[strings.ToUpper(w.Method)] {
		errs = append(errs, fmt.Sprintf("method %q is not one of GET, POST, PUT, PATCH, DELETE", w.Method))
	}

	if w.TimeoutMs != nil && (*w.TimeoutMs < minTimeoutMs || *w.TimeoutMs > maxTimeoutMs) {
		errs = append(errs, fmt.Sprintf("timeout must be between %d and %d ms, got %d", minTimeoutMs, maxTimeoutMs, *w.TimeoutMs))
	}

	if w.Retries != nil && (*w.Retries < minRetries || *w.Retries > maxRetries) {
		errs = append(errs, fmt.Sprintf("retries must be between %d and %d, got %d", minRetries, maxRetries, *w.Retries))
	}

	for key, path := range w.Transform {
		if key == "" || path == "" {
			errs = append(errs, "transform keys and paths must be non-empty")
			break
		}
	}
	return errs
}
