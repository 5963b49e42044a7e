package models

import (
	"errors"
)

var (
	ErrNoTable      = errors.New("no table loaded, upload a CSV file first")
	ErrEmptyRequest = errors.New("query request is empty")
)

// ParseError reports malformed or empty CSV input.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// SynthesisError reports a failure to turn a request into SQL: blank request,
// text generation failure or a response with no statement in it.
type SynthesisError struct {
	Msg string
	Err error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// ExecutionError reports a rejected statement or an engine failure. For engine
// failures Msg is the engine's message, unmodified.
type ExecutionError struct {
	Msg      string
	Rejected bool
	Err      error
}

func (e *ExecutionError) Error() string {
	return e.Msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }
