package contract

import (
	"net/mail"
	"strings"
	"time"
)

// ValidationResult aggregates every rule violation found in a creation
// request. Creation proceeds only when Valid is true; an invalid request has
// zero side effects and consumes no identifiers.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidationError is returned to callers when creation input fails
// validation. It carries the full list of human-readable messages.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "contract: validation failed: " + strings.Join(e.Messages, "; ")
}

// Validate checks a creation request against the rules a contract must meet
// before any contract number or token is allocated.
func Validate(params CreateParams, now time.Time) ValidationResult {
	var errs []string

	if strings.TrimSpace(params.Client.Name) == "" {
		errs = append(errs, "Client name is required")
	}
	if !validEmail(params.Client.Email) {
		errs = append(errs, "Valid client email is required")
	}
	if strings.TrimSpace(params.Event.Title) == "" {
		errs = append(errs, "Event title is required")
	}
	if params.Event.Date.IsZero() {
		errs = append(errs, "Event date is required")
	} else if params.Event.Date.Before(now.Truncate(24 * time.Hour)) {
		errs = append(errs, "Event date cannot be in the past")
	}
	if strings.TrimSpace(params.Event.Location) == "" {
		errs = append(errs, "Event location is required")
	}
	if params.FeeAmount <= 0 {
		errs = append(errs, "Fee amount must be greater than zero")
	}
	if params.Speaker.Email != "" && !validEmail(params.Speaker.Email) {
		errs = append(errs, "Speaker email is not valid")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func validEmail(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return false
	}
	// mail.ParseAddress accepts display names and local-only addresses;
	// require a bare user@host form.
	if parsed.Address != addr {
		return false
	}
	at := strings.LastIndexByte(addr, '@')
	return at > 0 && strings.ContainsRune(addr[at+1:], '.')
}
