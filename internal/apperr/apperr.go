// Package apperr carries the user-facing error kinds of the ordering engine.
//
// Every error a user can see has a Kind (what class of failure it is) and a
// Code (which condition). The text shown to the user is rendered from a fixed,
// localized catalog keyed by Code; raw backend text is only kept in Detail.
package apperr

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

// Kind classifies a failure for control flow.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindTransport
	KindPersistence
	KindLimitExceeded
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindPersistence:
		return "persistence"
	case KindLimitExceeded:
		return "limit_exceeded"
	}
	return "unknown"
}

// Code identifies the condition and selects the catalog message.
type Code string

const (
	CodeEmptyCart             Code = "empty_cart"
	CodeMinimumNotMet         Code = "minimum_not_met"
	CodeLocationUnset         Code = "location_unset"
	CodeOutOfRadius           Code = "out_of_radius"
	CodeInvalidPhone          Code = "invalid_phone"
	CodeMissingRequiredOption Code = "missing_required_option"
	CodeUnknownItem           Code = "unknown_item"
	CodeUnknownOption         Code = "unknown_option"
	CodeInvalidPlacement      Code = "invalid_placement"
	CodeTooManyChoices        Code = "too_many_choices"
	CodeLimitExceeded         Code = "limit_exceeded"
	CodeMissingDestination    Code = "missing_destination"
	CodeTransitionNotAllowed  Code = "transition_not_allowed"
	CodeOrderNotFound         Code = "order_not_found"
	CodeSubmitFailed          Code = "submit_failed"
	CodeUpdateFailed          Code = "update_failed"
	CodeFetchFailed           Code = "fetch_failed"
	CodeJoinFailed            Code = "join_failed"
	CodeNotConnected          Code = "not_connected"
)

// Error is a classified, user-presentable error.
type Error struct {
	Kind Kind
	Code Code
	// Args fill the catalog message placeholders, in order.
	Args []any
	// Detail holds raw upstream text (for display next to the message only).
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message(language.English)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind and Code, so callers can write
// errors.Is(err, apperr.New(apperr.KindValidation, apperr.CodeEmptyCart)).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// Message renders the localized text for the given language.
func (e *Error) Message(tag language.Tag) string {
	return Render(tag, e.Code, e.Args...)
}

// New builds an error without a cause.
func New(kind Kind, code Code, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Args: args}
}

// Wrap builds an error around a cause.
func Wrap(kind Kind, code Code, err error, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Args: args, Err: err}
}

func Validation(code Code, args ...any) *Error { return New(KindValidation, code, args...) }

func LimitExceeded(max int, group string) *Error {
	return New(KindLimitExceeded, CodeLimitExceeded, max, group)
}

func Persistence(code Code, err error, detail string) *Error {
	return &Error{Kind: KindPersistence, Code: code, Err: err, Detail: detail}
}

func Transport(code Code, err error) *Error {
	return Wrap(KindTransport, code, err)
}

// IsKind reports whether any error in err's chain is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
