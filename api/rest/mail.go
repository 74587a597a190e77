package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/dmail/mail"
	mw "github.com/kasuganosora/dmail/middleware"
	"go.uber.org/zap"
)

// MailHandler handles private message REST endpoints.
type MailHandler struct {
	store  *mail.Store
	logger *zap.Logger
}

// NewMailHandler creates a MailHandler.
func NewMailHandler(store *mail.Store, logger *zap.Logger) *MailHandler {
	return &MailHandler{store: store, logger: logger}
}

func (h *MailHandler) actor(c *gin.Context) (mail.Actor, bool) {
	return currentActor(c, h.store, h.logger)
}

// currentActor loads the requesting user. It writes the error response
// itself and returns false when the request cannot go on.
func currentActor(c *gin.Context, store *mail.Store, logger *zap.Logger) (mail.Actor, bool) {
	a, err := store.Actor(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		if errors.Is(err, mail.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		} else {
			writeError(c, logger, err)
		}
		return mail.Actor{}, false
	}
	return a, true
}

// Search lists the requester's copies.
// GET /api/mail
func (h *MailHandler) Search(c *gin.Context) {
	a, ok := h.actor(c)
	if !ok {
		return
	}
	var s mail.Search
	if err := c.ShouldBindQuery(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msgs, err := h.store.Search(c.Request.Context(), a, s)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mails": h.store.Views(msgs)})
}

// Status returns has_mail and the unread count.
// GET /api/mail/status
func (h *MailHandler) Status(c *gin.Context) {
	a, ok := h.actor(c)
	if !ok {
		return
	}
	st, err := h.store.Status(c.Request.Context(), a)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Send stores a new message.
// POST /api/mail
func (h *MailHandler) Send(c *gin.Context) {
	a, ok := h.actor(c)
	if !ok {
		return
	}
	var req mail.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.store.Send(c.Request.Context(), a, req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"mail": h.store.View(res.SenderCopy)})
}

// MarkAllRead marks every copy of the requester read.
// POST /api/mail/mark_all_read
func (h *MailHandler) MarkAllRead(c *gin.Context) {
	a, ok := h.actor(c)
	if !ok {
		return
	}
	n, err := h.store.MarkAllRead(c.Request.Context(), a)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// SetFilter replaces the requester's filter words.
// PUT /api/mail/filter
func (h *MailHandler) SetFilter(c *gin.Context) {
	a, ok := h.actor(c)
	if !ok {
		return
	}
	var req struct {
		Words string `json:"words"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	words, err := h.store.SetFilter(c.Request.Context(), a, req.Words)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"words": words})
}

// Show returns one copy. Moderators pass the copy's key to open someone
// else's message.
// GET /api/mail/:id
func (h *MailHandler) Show(c *gin.Context) {
	a, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	m, err := h.store.Show(c.Request.Context(), a, id, c.Query("key"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mail": h.store.View(m)})
}

// Read marks a copy read.
// POST /api/mail/:id/read
func (h *MailHandler) Read(c *gin.Context) {
	h.update(c, h.store.MarkRead)
}

// Delete flags a copy deleted.
// DELETE /api/mail/:id
func (h *MailHandler) Delete(c *gin.Context) {
	h.update(c, h.store.Delete)
}

// Undelete restores a deleted copy.
// POST /api/mail/:id/undelete
func (h *MailHandler) Undelete(c *gin.Context) {
	h.update(c, h.store.Undelete)
}

func (h *MailHandler) update(c *gin.Context, fn func(ctx context.Context, a mail.Actor, id int64) error) {
	a, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), a, id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	st, err := h.store.Status(c.Request.Context(), a)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "unread_count": st.UnreadCount})
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// writeError maps mail errors onto HTTP responses.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var verrs mail.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": verrs})
	case errors.Is(err, mail.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, mail.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, mail.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		logger.Error("request failed",
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
