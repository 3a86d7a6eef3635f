package retrieval

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindAccessDenied Kind = "access_denied"
	KindThrottled    Kind = "throttled"
	KindTimeout      Kind = "timeout"
	KindUnknown      Kind = "unknown"
)

// Error is the only error type Gateway.Retrieve returns. errors.Is matches
// on Kind, so errors.Is(err, ErrNotFound) works for any knowledge base.
type Error struct {
	Kind            Kind
	KnowledgeBaseID string
	// Transient marks failures a backend considers safe to retry (5xx,
	// connection resets). Only meaningful with KindUnknown.
	Transient bool
	Err       error
}

var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrAccessDenied = &Error{Kind: KindAccessDenied}
	ErrThrottled    = &Error{Kind: KindThrottled}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrUnknown      = &Error{Kind: KindUnknown}
)

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindNotFound:
		msg = fmt.Sprintf("knowledge base %q not found", e.KnowledgeBaseID)
	case KindAccessDenied:
		msg = "access denied to knowledge base"
	case KindThrottled:
		msg = "knowledge base request was throttled"
	case KindTimeout:
		msg = "knowledge base query timed out"
	default:
		msg = "knowledge base query failed"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the user may simply try again. NotFound and
// AccessDenied need a configuration fix instead.
func (e *Error) Retryable() bool {
	return e.Kind == KindThrottled || e.Kind == KindTimeout
}

// Hint is a short remediation message for the user.
func (e *Error) Hint() string {
	switch e.Kind {
	case KindNotFound:
		return "The knowledge base could not be found. Please check the knowledge base ID in the service configuration."
	case KindAccessDenied:
		return "Access to the knowledge base was denied. Please check the service credentials and permissions."
	case KindThrottled:
		return "The knowledge base is busy right now. Please try again in a moment."
	case KindTimeout:
		return "The knowledge base took too long to answer. Please try again, or try a simpler question."
	default:
		return "Something went wrong while searching the knowledge base. Please try again."
	}
}

func (e *Error) shouldRetry() bool {
	return e.Kind == KindThrottled || (e.Kind == KindUnknown && e.Transient)
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	if rerr, ok := AsError(err); ok {
		return rerr.Kind
	}
	return KindUnknown
}

func NewError(kind Kind, kbID string, err error) *Error {
	return &Error{Kind: kind, KnowledgeBaseID: kbID, Err: err}
}

func NewTransientError(kbID string, err error) *Error {
	return &Error{Kind: KindUnknown, KnowledgeBaseID: kbID, Transient: true, Err: err}
}
