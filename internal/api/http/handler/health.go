package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Checker reports whether the service can serve requests.
type Checker interface {
	IsConnected() bool
}

type HealthHandler struct {
	checker Checker
}

func NewHealthHandler(checker Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Ping always answers; it does not need a token.
func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, ResponseWithMessage{Status: StatusOK, Message: "pong"})
}

// Health reports 503 until the mailbox service is connected.
func (h *HealthHandler) Health(c *gin.Context) {
	if !h.checker.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, ResponseWithMessage{Status: StatusUnavailable, Message: "mailbox not connected"})
		return
	}
	c.JSON(http.StatusOK, ResponseWithMessage{Status: StatusOK, Message: "healthy"})
}
