// Package toolerr defines the error taxonomy shared by the render, stream and
// catalog services and collapsed into response envelopes by the tool router.
package toolerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes an error.
type Kind string

const (
	// KindValidation marks malformed or missing input. It is the only kind
	// allowed to escape the dispatch boundary.
	KindValidation Kind = "validation"
	// KindNotFound marks an absent job, stream or output.
	KindNotFound Kind = "not_found"
	// KindProcessing marks a domain failure.
	KindProcessing Kind = "processing"
	// KindSystem marks a filesystem or process failure.
	KindSystem Kind = "system"
)

// Reasons carried by processing errors.
const (
	ReasonToolNotFound        = "tool_not_found"
	ReasonCompositionNotFound = "composition_not_found"
	ReasonJobNotFound         = "job_not_found"
	ReasonJobNotCompleted     = "job_not_completed"
	ReasonOutputNotFound      = "output_not_found"
	ReasonStreamNotFound      = "stream_not_found"
	ReasonStreamNotActive     = "stream_not_active"
	ReasonUnsupportedFormat   = "unsupported_format"
	ReasonInvalidOffset       = "invalid_offset"
	ReasonInvalidParameters   = "invalid_parameters"
	ReasonShuttingDown        = "shutting_down"
)

// Error is the tagged error used across services.
type Error struct {
	Kind Kind
	// Op is the operation that failed (e.g. "render.trigger").
	Op string
	// Reason is a stable machine-readable code for processing errors.
	Reason string
	// Field and Constraint describe validation failures.
	Field      string
	Constraint string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString("/")
		b.WriteString(e.Reason)
	}
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind and, when the target sets one, Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Validation creates a validation error for field.
func Validation(field, constraint, message string) *Error {
	return &Error{
		Kind:       KindValidation,
		Field:      field,
		Constraint: constraint,
		Message:    message,
	}
}

// NotFound creates a soft not-found error.
func NotFound(op, reason, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Reason: reason, Message: message}
}

// Processing creates a domain failure.
func Processing(op, reason, message string) *Error {
	return &Error{Kind: KindProcessing, Op: op, Reason: reason, Message: message}
}

// Processingf creates a domain failure with a formatted message.
func Processingf(op, reason, format string, args ...any) *Error {
	return Processing(op, reason, fmt.Sprintf(format, args...))
}

// System wraps a filesystem or process failure, keeping its message as detail.
func System(op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindSystem, Op: op, Message: "system error", Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, defaulting to KindSystem for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindSystem
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation && err != nil
}
