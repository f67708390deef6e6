package whatsapp

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrAuthentication is the parent of every webhook signature failure.
	ErrAuthentication     = errors.New("webhook authentication failed")
	ErrSignatureMissing   = fmt.Errorf("%w: signature header missing", ErrAuthentication)
	ErrSignatureMalformed = fmt.Errorf("%w: signature header malformed", ErrAuthentication)
	ErrSignatureMismatch  = fmt.Errorf("%w: signature mismatch", ErrAuthentication)

	ErrNotConfigured     = errors.New("whatsapp outbound is not configured")
	ErrInvalidAddress    = errors.New("invalid whatsapp address")
	ErrTransientSend     = errors.New("transient send failure")
	ErrPermanentSend     = errors.New("permanent send failure")
	ErrMissingProviderID = errors.New("provider response carried no message id")
	ErrProviderAuth      = errors.New("provider rejected credentials")
)

// SendError is a classified provider call failure. Kind is one of
// ErrTransientSend, ErrPermanentSend, ErrProviderAuth or ErrMissingProviderID.
type SendError struct {
	Kind       error
	StatusCode int
	Code       int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SendError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the caller may try the same call again later.
func (e *SendError) Retryable() bool {
	return errors.Is(e.Kind, ErrTransientSend)
}

// classifyStatus maps a non-2xx provider response to a send error kind.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return ErrTransientSend
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrProviderAuth
	default:
		return ErrPermanentSend
	}
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
