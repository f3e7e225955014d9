package llm

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
)

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("empty response")

// Error is a backend failure annotated with its HTTP status and the wait
// time the server suggested, if any.
type Error struct {
	Provider   string
	HTTPStatus int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

// Unwrap exposes the cause and the errdefs class derived from the status.
func (e *Error) Unwrap() []error {
	if class := statusClass(e.HTTPStatus); class != nil {
		return []error{e.Err, class}
	}
	return []error{e.Err}
}

func statusClass(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return errdefs.ErrResourceExhausted
	case status == http.StatusUnauthorized:
		return errdefs.ErrUnauthenticated
	case status == http.StatusForbidden:
		return errdefs.ErrPermissionDenied
	case status == http.StatusBadRequest:
		return errdefs.ErrInvalidArgument
	case status == http.StatusNotFound:
		return errdefs.ErrNotFound
	case status >= 500:
		return errdefs.ErrUnavailable
	}
	return nil
}

// RetryExhaustedError is returned when a rate-limited call still fails after
// the retry budget is spent.
type RetryExhaustedError struct {
	Err      error
	Attempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool {
	return err != nil && errdefs.IsResourceExhausted(err)
}

// RetryAfterFrom returns the server-suggested wait carried by err, or 0.
func RetryAfterFrom(err error) time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return 0
}

// wrapError annotates a raw SDK error using what its message reveals.
func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}
	status, retryAfter := extractErrorMetadata(err.Error())
	return &Error{Provider: provider, HTTPStatus: status, RetryAfter: retryAfter, Err: err}
}

var statusPatterns = []struct {
	pattern *regexp.Regexp
	status  int
}{
	{regexp.MustCompile(`(?i)\b429\b|too many requests|rate.?limit|resource.?exhausted|quota`), http.StatusTooManyRequests},
	{regexp.MustCompile(`(?i)\b529\b|overloaded`), http.StatusServiceUnavailable},
	{regexp.MustCompile(`\b500\b`), http.StatusInternalServerError},
	{regexp.MustCompile(`\b502\b`), http.StatusBadGateway},
	{regexp.MustCompile(`\b503\b`), http.StatusServiceUnavailable},
	{regexp.MustCompile(`\b504\b`), http.StatusGatewayTimeout},
	{regexp.MustCompile(`\b401\b`), http.StatusUnauthorized},
	{regexp.MustCompile(`\b403\b`), http.StatusForbidden},
	{regexp.MustCompile(`\b400\b`), http.StatusBadRequest},
}

var retryAfterPattern = regexp.MustCompile(`(?i)(?:retry[- ]after|retrydelay|try again in)["':=\s]*([0-9]+(?:\.[0-9]+)?)\s*(ms|s|m)?`)

// extractErrorMetadata recovers the HTTP status and Retry-After hint from an
// SDK error message.
func extractErrorMetadata(msg string) (int, time.Duration) {
	var status int
	for _, p := range statusPatterns {
		if p.pattern.MatchString(msg) {
			status = p.status
			break
		}
	}
	return status, parseRetryAfterText(msg)
}

func parseRetryAfterText(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	return parseRetryAfter(m[1] + m[2])
}

// parseRetryAfter parses a Retry-After value: bare seconds, a Go duration
// ("1.5s", "250ms") or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
