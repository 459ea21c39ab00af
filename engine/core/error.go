package core

import (
	"errors"
	"fmt"
	"maps"
)

const (
	CodeWorkflowStructure = "WORKFLOW_STRUCTURE"
	CodeIllegalState      = "ILLEGAL_STATE_TRANSITION"
	CodeTaskNotFound      = "TASK_NOT_FOUND"
	CodeData              = "DATA_VIOLATION"
	CodeHook              = "HOOK_FAILED"
	CodeDefinition        = "INVALID_DEFINITION"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrWorkflowStructure = &Error{Code: CodeWorkflowStructure}
	ErrIllegalState      = &Error{Code: CodeIllegalState}
	ErrTaskNotFound      = &Error{Code: CodeTaskNotFound}
	ErrData              = &Error{Code: CodeData}
	ErrHook              = &Error{Code: CodeHook}
	ErrDefinition        = &Error{Code: CodeDefinition}
)

// Error is the coded error returned by the runtime.
type Error struct {
	Code    string         `json:"code"              yaml:"code"`
	Message string         `json:"message"           yaml:"message"`
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	err     error
}

// NewError wraps err under code. A nil err yields an error whose message is the code.
func NewError(err error, code string, details map[string]any) *Error {
	msg := code
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    code,
		Message: msg,
		Details: maps.Clone(details),
		err:     err,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *Error
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Code == e.Code
}

// AsMap renders the error for structured output.
func (e *Error) AsMap() map[string]any {
	if e == nil {
		return nil
	}
	out := map[string]any{"code": e.Code, "message": e.Message}
	if len(e.Details) > 0 {
		out["details"] = maps.Clone(e.Details)
	}
	return out
}

// ErrorCode extracts the code of the first *Error in err's chain.
func ErrorCode(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
