// Package handler implements the HTTP handlers of the workspace mailbox.
package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	mailbox "github.com/rbaliyan/workspace-mailbox"
	"github.com/rbaliyan/workspace-mailbox/store"
)

// MailboxService scopes mailbox operations to a workspace.
type MailboxService interface {
	Workspace(workspaceID string) mailbox.Mailbox
}

type MailboxHandler struct {
	log *slog.Logger
	svc MailboxService
}

func NewMailboxHandler(log *slog.Logger, svc MailboxService) *MailboxHandler {
	return &MailboxHandler{log: log, svc: svc}
}

// bulkDeleteRequest is the body of DELETE /bulk_delete.
type bulkDeleteRequest struct {
	MessageIDs []int64 `json:"message_ids"`
}

// bulkDeleteFailure is returned when the store failed after removing some
// of the requested messages.
type bulkDeleteFailure struct {
	ResponseWithMessage
	Deleted []int64 `json:"deleted"`
}

// workspace returns the mailbox of the request's workspace once the caller
// is authorized, or writes the error and returns false. It runs before any
// request input is parsed.
func (h *MailboxHandler) workspace(c *gin.Context) (mailbox.Mailbox, bool) {
	mb := h.svc.Workspace(c.Param("workspace_id"))
	if err := mb.Authorize(c.Request.Context()); err != nil {
		writeError(c, h.log, err)
		return nil, false
	}
	return mb, true
}

// HeaderTotalCount carries the number of messages matching a list query
// across all pages.
const HeaderTotalCount = "X-Total-Count"

// List returns one page of the mailbox as a JSON array.
func (h *MailboxHandler) List(c *gin.Context) {
	mb, ok := h.workspace(c)
	if !ok {
		return
	}
	q, err := parseListQuery(c)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	msgs, err := mb.List(c.Request.Context(), q)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	total, err := mb.Count(c.Request.Context(), q)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Header(HeaderTotalCount, strconv.FormatInt(total, 10))
	c.JSON(http.StatusOK, msgs)
}

// Delete removes one message.
func (h *MailboxHandler) Delete(c *gin.Context) {
	mb, ok := h.workspace(c)
	if !ok {
		return
	}
	id, err := mailbox.ParseMessageID(c.Param("message_id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	if err := mb.Delete(c.Request.Context(), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.String(http.StatusOK, fmt.Sprintf("Deleted mailbox message %d", id))
}

// BulkDelete removes the listed messages and reports which ids were missing.
func (h *MailboxHandler) BulkDelete(c *gin.Context) {
	mb, ok := h.workspace(c)
	if !ok {
		return
	}
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, &mailbox.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	if req.MessageIDs == nil {
		writeError(c, h.log, &mailbox.ValidationError{Field: "message_ids", Message: "is required"})
		return
	}

	report, err := mb.BulkDelete(c.Request.Context(), req.MessageIDs)
	var partial *mailbox.PartialBulkDeleteError
	if errors.As(err, &partial) {
		code, status := errorStatus(err)
		h.log.ErrorContext(c.Request.Context(), "bulk delete failed part-way",
			"workspace_id", mb.WorkspaceID(),
			"deleted", len(partial.Report.Deleted),
			"error", err,
		)
		c.AbortWithStatusJSON(code, bulkDeleteFailure{
			ResponseWithMessage: ResponseWithMessage{Status: status, Message: err.Error()},
			Deleted:             partial.Report.Deleted,
		})
		return
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Handle marks a message as handled. A message that was already handled is
// a conflict.
func (h *MailboxHandler) Handle(c *gin.Context) {
	mb, ok := h.workspace(c)
	if !ok {
		return
	}
	id, err := mailbox.ParseMessageID(c.Param("message_id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	res, err := mb.Handle(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if err := res.Err(); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res.Message)
}

func parseListQuery(c *gin.Context) (mailbox.ListQuery, error) {
	var q mailbox.ListQuery

	if v, ok := c.GetQuery("mailbox_type"); ok {
		t, err := store.ParseMailboxType(v)
		if err != nil {
			return q, &mailbox.ValidationError{Field: "mailbox_type", Message: fmt.Sprintf("unknown type %q", v)}
		}
		q.MailboxType = &t
	}
	if v, ok := c.GetQuery("mailbox_id"); ok {
		q.MailboxID = &v
	}
	if v, ok := c.GetQuery("message_id"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return q, &mailbox.ValidationError{Field: "message_id", Message: fmt.Sprintf("%q is not an integer", v)}
		}
		q.MessageID = &id
	}

	var err error
	if q.Page, err = intQuery(c, "page"); err != nil {
		return q, err
	}
	if q.PerPage, err = intQuery(c, "per_page"); err != nil {
		return q, err
	}
	return q, nil
}

// intQuery returns 0 when the parameter is absent.
func intQuery(c *gin.Context, name string) (int, error) {
	v, ok := c.GetQuery(name)
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &mailbox.ValidationError{Field: name, Message: fmt.Sprintf("%q is not an integer", v)}
	}
	return n, nil
}
