package transcribe

import (
	"errors"
	"fmt"
)

// Kind classifies a failed transcription for the caller.
type Kind int

const (
	KindUnknown Kind = iota
	// KindUnavailable means the engine binary or model file could not be found.
	KindUnavailable
	// KindInvalidInput means the uploaded audio could not be read or converted.
	KindInvalidInput
	// KindEngineFailure means the engine exited non-zero, timed out, or wrote no output.
	KindEngineFailure
	// KindMalformedOutput means the engine's JSON output could not be parsed.
	KindMalformedOutput
	// KindInternal means a server-side fault, such as a temp file that could
	// not be created or written.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindInvalidInput:
		return "invalid_input"
	case KindEngineFailure:
		return "engine_failure"
	case KindMalformedOutput:
		return "malformed_output"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a terminal pipeline error. Msg is safe to show to callers;
// Detail carries truncated diagnostic output from an external process.
type Error struct {
	Kind   Kind
	Msg    string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	s := e.Msg
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// truncate bounds diagnostic text copied from process stderr.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
