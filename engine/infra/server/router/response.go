package router

import (
	"errors"
	"net/http"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/infra/server/appstate"
	"github.com/compozy/tasktree/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Response is the envelope of every API reply.
type Response struct {
	Status  int        `json:"status"`
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Response{Status: status, Message: message, Data: data})
}

func RespondOK(c *gin.Context, message string, data any) {
	respond(c, http.StatusOK, message, data)
}

func RespondCreated(c *gin.Context, message string, data any) {
	respond(c, http.StatusCreated, message, data)
}

func RespondAccepted(c *gin.Context, message string, data any) {
	respond(c, http.StatusAccepted, message, data)
}

// RespondWithError writes err as an error envelope and aborts the chain.
func RespondWithError(c *gin.Context, statusCode int, err error) {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		reqErr = NewRequestError(statusCode, err.Error(), err)
	}
	if statusCode >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("Request failed",
			"path", c.FullPath(),
			"status", statusCode,
			"error", err,
		)
	}
	c.AbortWithStatusJSON(statusCode, Response{
		Status:  statusCode,
		Message: reqErr.Reason,
		Error:   reqErr.GetErrorInfo(),
	})
}

// GetAppState returns the request state or responds with a server error.
func GetAppState(c *gin.Context) *appstate.State {
	state, err := appstate.GetState(c.Request.Context())
	if err != nil {
		reqErr := NewRequestError(http.StatusInternalServerError, ErrMsgAppStateNotInitialized, err)
		RespondWithError(c, reqErr.StatusCode, reqErr)
		return nil
	}
	return state
}

// GetRequestBody binds the JSON body into T or responds with a bad request.
// An empty body yields the zero value.
func GetRequestBody[T any](c *gin.Context) *T {
	var body T
	if c.Request.ContentLength == 0 {
		return &body
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		reqErr := NewRequestError(http.StatusBadRequest, "invalid request body", err)
		RespondWithError(c, reqErr.StatusCode, reqErr)
		return nil
	}
	return &body
}

// GetIDParam parses the path parameter name as an ID or responds with a bad
// request.
func GetIDParam(c *gin.Context, name string) (core.ID, bool) {
	raw := c.Param(name)
	id, err := core.ParseID(raw)
	if err != nil {
		reqErr := NewRequestError(http.StatusBadRequest, "invalid "+name, err)
		RespondWithError(c, reqErr.StatusCode, reqErr)
		return "", false
	}
	return id, true
}
