package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	mailbox "github.com/rbaliyan/workspace-mailbox"
)

const (
	StatusErr           = "error"
	StatusOK            = "ok"
	StatusNotAvailable  = "not available"
	StatusNotPermitted  = "not permitted"
	StatusForbidden     = "forbidden"
	StatusNotFound      = "not_found"
	StatusConflict      = "conflict"
	StatusInvalidInput  = "invalid_input"
	StatusUnavailable   = "unavailable"
	StatusInternalError = "internal_error"
)

// ResponseWithMessage is the body of every error response.
type ResponseWithMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ResponseWithData wraps a payload that is not returned bare.
type ResponseWithData struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// errorStatus maps an error from the mailbox package to an HTTP status and
// a response status string.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, mailbox.ErrForbidden):
		return http.StatusForbidden, StatusForbidden
	case errors.Is(err, mailbox.ErrNotFound):
		return http.StatusNotFound, StatusNotFound
	case errors.Is(err, mailbox.ErrAlreadyHandled):
		return http.StatusConflict, StatusConflict
	case errors.Is(err, mailbox.ErrInvalidRequest):
		return http.StatusBadRequest, StatusInvalidInput
	case errors.Is(err, mailbox.ErrStorageFailure),
		errors.Is(err, mailbox.ErrNotConnected),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, StatusUnavailable
	default:
		return http.StatusInternalServerError, StatusInternalError
	}
}

// writeError aborts the request with the mapped status. Internal errors are
// logged and their text is not returned.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	code, status := errorStatus(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		log.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", code,
			"error", err,
		)
		if code == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	c.AbortWithStatusJSON(code, ResponseWithMessage{Status: status, Message: msg})
}

func NoMethod(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, ResponseWithMessage{
		Status:  StatusNotAvailable,
		Message: "method not allowed on this endpoint",
	})
}

func NoRoute(c *gin.Context) {
	c.JSON(http.StatusNotFound, ResponseWithMessage{
		Status:  StatusNotAvailable,
		Message: "page not found",
	})
}
