package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/infra/snapstore"
)

// Error codes
const (
	ErrInternalCode           = "INTERNAL_ERROR"
	ErrBadRequestCode         = "BAD_REQUEST"
	ErrNotFoundCode           = "NOT_FOUND"
	ErrConflictCode           = "CONFLICT"
	ErrRequestTimeoutCode     = "REQUEST_TIMEOUT"
	ErrUnprocessableCode      = "UNPROCESSABLE_ENTITY"
	ErrServiceUnavailableCode = "SERVICE_UNAVAILABLE"
)

const ErrMsgAppStateNotInitialized = "application state not initialized"

// RequestError represents errors that can occur during request handling
type RequestError struct {
	WorkflowID string
	Reason     string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.WorkflowID != "" {
		return fmt.Sprintf("Workflow %s failed: %s", e.WorkflowID, e.Reason)
	}
	return e.Reason
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError creates a new RequestError
func NewRequestError(statusCode int, reason string, err error) *RequestError {
	return &RequestError{
		StatusCode: statusCode,
		Reason:     reason,
		Err:        err,
	}
}

// WorkflowError classifies an engine error raised while operating on a
// workflow.
func WorkflowError(workflowID, reason string, err error) *RequestError {
	return &RequestError{
		StatusCode: StatusFromError(err),
		WorkflowID: workflowID,
		Reason:     reason,
		Err:        err,
	}
}

// StatusFromError maps engine errors to HTTP statuses.
func StatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, snapstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, snapstore.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	switch core.ErrorCode(err) {
	case core.CodeTaskNotFound:
		return http.StatusNotFound
	case core.CodeDefinition, core.CodeData:
		return http.StatusBadRequest
	case core.CodeIllegalState:
		return http.StatusConflict
	case core.CodeWorkflowStructure, core.CodeHook:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// GetErrorInfo extracts error information for the standardized response
func (e *RequestError) GetErrorInfo() *ErrorInfo {
	var details string
	if e.Err != nil {
		details = e.Err.Error()
	}
	code := ErrInternalCode
	switch e.StatusCode {
	case http.StatusBadRequest:
		code = ErrBadRequestCode
	case http.StatusNotFound:
		code = ErrNotFoundCode
	case http.StatusConflict:
		code = ErrConflictCode
	case http.StatusRequestTimeout:
		code = ErrRequestTimeoutCode
	case http.StatusUnprocessableEntity:
		code = ErrUnprocessableCode
	case http.StatusServiceUnavailable:
		code = ErrServiceUnavailableCode
	}
	return &ErrorInfo{
		Code:    code,
		Message: e.Reason,
		Details: details,
	}
}
