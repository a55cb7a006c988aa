package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the top level class of a pipeline failure.
type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindEngine     Kind = "EngineError"
	KindProtocol   Kind = "ProtocolError"
	KindArtifact   Kind = "ArtifactError"
)

// Code is the specific reason within a Kind.
type Code string

const (
	CodeNoFiles               Code = "NoFiles"
	CodeInsufficientFiles     Code = "InsufficientFiles"
	CodeMalformedOptions      Code = "MalformedOptions"
	CodeMissingRequiredOption Code = "MissingRequiredOption"
	CodeInvalidOption         Code = "InvalidOption"
	CodeUnknownOperation      Code = "UnknownOperation"

	CodeSpawnFailed     Code = "SpawnFailed"
	CodeNonZeroExit     Code = "NonZeroExit"
	CodeReportedFailure Code = "ReportedFailure"
	CodeTimeout         Code = "Timeout"
	CodeCanceled        Code = "Canceled"

	CodeUnparsableOutput  Code = "UnparsableOutput"
	CodeResultFileMissing Code = "ResultFileMissing"

	CodeEmptyResult     Code = "EmptyResult"
	CodePackagingFailed Code = "PackagingFailed"
)

// Sentinels for errors.Is. Matching compares Kind and Code only, so
//
//	errors.Is(err, model.ErrNonZeroExit)
//
// holds for any *Error carrying EngineError:NonZeroExit regardless of message.
var (
	ErrNoFiles               = &Error{Kind: KindValidation, Code: CodeNoFiles}
	ErrInsufficientFiles     = &Error{Kind: KindValidation, Code: CodeInsufficientFiles}
	ErrMalformedOptions      = &Error{Kind: KindValidation, Code: CodeMalformedOptions}
	ErrMissingRequiredOption = &Error{Kind: KindValidation, Code: CodeMissingRequiredOption}
	ErrInvalidOption         = &Error{Kind: KindValidation, Code: CodeInvalidOption}
	ErrUnknownOperation      = &Error{Kind: KindValidation, Code: CodeUnknownOperation}

	ErrSpawnFailed     = &Error{Kind: KindEngine, Code: CodeSpawnFailed}
	ErrNonZeroExit     = &Error{Kind: KindEngine, Code: CodeNonZeroExit}
	ErrReportedFailure = &Error{Kind: KindEngine, Code: CodeReportedFailure}
	ErrTimeout         = &Error{Kind: KindEngine, Code: CodeTimeout}
	ErrCanceled        = &Error{Kind: KindEngine, Code: CodeCanceled}

	ErrUnparsableOutput  = &Error{Kind: KindProtocol, Code: CodeUnparsableOutput}
	ErrResultFileMissing = &Error{Kind: KindProtocol, Code: CodeResultFileMissing}

	ErrEmptyResult     = &Error{Kind: KindArtifact, Code: CodeEmptyResult}
	ErrPackagingFailed = &Error{Kind: KindArtifact, Code: CodePackagingFailed}
)

// Error is a typed pipeline failure. Detail carries diagnostic text captured
// from the engine (stderr, raw stdout) and is kept apart from Msg so callers
// can decide whether to expose it.
type Error struct {
	Kind   Kind
	Code   Code
	Msg    string
	Detail string
	Err    error
}

// NewError creates an error of the same class as sentinel.
func NewError(sentinel *Error, format string, args ...any) *Error {
	return &Error{
		Kind: sentinel.Kind,
		Code: sentinel.Code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// WithDetail returns a copy of e with diagnostic detail attached.
func (e *Error) WithDetail(detail string) *Error {
	c := *e
	c.Detail = detail
	return &c
}

// Wrap returns a copy of e wrapping the underlying cause.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// Reason renders Kind:Code, e.g. EngineError:NonZeroExit.
func (e *Error) Reason() string {
	return string(e.Kind) + ":" + string(e.Code)
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Reason()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// HTTPStatus maps the taxonomy onto a status code: validation problems are
// client correctable, everything else is a server side failure.
func (e *Error) HTTPStatus() int {
	if e.Kind == KindValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// AsError extracts a pipeline *Error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
