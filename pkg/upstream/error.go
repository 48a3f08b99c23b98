package upstream

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrNotConfigured is returned when the upstream URL or credential is absent.
var ErrNotConfigured = errors.New("upstream is not configured")

// Error is returned for every failure talking to the chat-completion API:
// missing configuration, transport failures once retries are exhausted,
// non-success statuses and unusable bodies.
type Error struct {
	// StatusCode is the last HTTP status received, or 0 if none was.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func statusError(status int, statusText string, body []byte) *Error {
	return &Error{
		StatusCode: status,
		Err:        fmt.Errorf("upstream returned %s: %s", statusText, truncate(string(body), 512)),
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
