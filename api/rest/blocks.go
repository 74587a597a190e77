package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/dmail/mail"
	"go.uber.org/zap"
)

// BlockHandler manages the requester's blocked senders.
type BlockHandler struct {
	store  *mail.Store
	logger *zap.Logger
}

// NewBlockHandler creates a BlockHandler.
func NewBlockHandler(store *mail.Store, logger *zap.Logger) *BlockHandler {
	return &BlockHandler{store: store, logger: logger}
}

// List handles GET /api/blocks.
func (h *BlockHandler) List(c *gin.Context) {
	a, ok := currentActor(c, h.store, h.logger)
	if !ok {
		return
	}
	users, err := h.store.Blocks(c.Request.Context(), a)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": users})
}

// Block handles POST /api/blocks/:id.
func (h *BlockHandler) Block(c *gin.Context) {
	h.apply(c, h.store.Block)
}

// Unblock handles DELETE /api/blocks/:id.
func (h *BlockHandler) Unblock(c *gin.Context) {
	h.apply(c, h.store.Unblock)
}

func (h *BlockHandler) apply(c *gin.Context, fn func(ctx context.Context, a mail.Actor, targetID int64) error) {
	a, ok := currentActor(c, h.store, h.logger)
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
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
