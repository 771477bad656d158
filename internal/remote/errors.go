package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"rollcall/internal/models"
)

// Kind classifies delivery failures.
type Kind string

const (
	KindTimeout    Kind = "timeout"
	KindNetwork    Kind = "network"
	KindHTTPStatus Kind = "http_status"
	KindMalformed  Kind = "malformed"
	KindRejected   Kind = "rejected"
	KindUnknown    Kind = "unknown"
)

// DeliveryError is a classified failure of one delivery attempt. Error()
// is the message shown to the user as the last sync error; Cause returns the
// underlying detail for logs.
type DeliveryError struct {
	Kind       Kind
	StatusCode int
	Snippet    string
	Reason     string
	Timeout    time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	switch e.Kind {
	case KindTimeout:
		if e.Timeout > 0 {
			return fmt.Sprintf("server did not respond within %s (likely busy), will retry", formatTimeout(e.Timeout))
		}
		return "server did not respond in time (likely busy), will retry"
	case KindNetwork:
		return "could not reach server, sync pauses until the connection is restored"
	case KindHTTPStatus:
		return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Snippet)
	case KindMalformed:
		return fmt.Sprintf("unexpected response from server: %s", e.Snippet)
	case KindRejected:
		if e.Reason == "" {
			return "record rejected by server"
		}
		return fmt.Sprintf("record rejected by server: %s", e.Reason)
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "delivery failed"
	}
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Cause describes the underlying error, or "" when there is none.
func (e *DeliveryError) Cause() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}

// KindOf classifies any error returned by a Sender.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindUnknown
}

// AsDeliveryError returns err as a DeliveryError, classifying plain errors.
func AsDeliveryError(err error) *DeliveryError {
	if err == nil {
		return nil
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}
	return &DeliveryError{Kind: KindOf(err), Err: err}
}

// Snippet truncates s to the configured limit without splitting a rune.
func Snippet(s string) string {
	if len(s) <= models.SnippetLimit {
		return s
	}
	cut := models.SnippetLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
