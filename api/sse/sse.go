package sse

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/dmail/cache"
	"github.com/kasuganosora/dmail/config"
	"github.com/kasuganosora/dmail/mail"
	mw "github.com/kasuganosora/dmail/middleware"
	"go.uber.org/zap"
)

const (
	announceChannel = "announce"
	keepAlive       = 30 * time.Second
)

// Event names written to the stream.
const (
	EventConnected = "connected"
	EventMail      = "mail"
	EventAnnounce  = "announce"
)

// Handler streams new-mail notices to connected users.
type Handler struct {
	pubsub cache.PubSub
	sec    config.SecurityConfig
	c      cache.Cache
	logger *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, c: c, sec: sec, logger: logger}
}

// ServeSSE handles GET /sse?token=<jwt>. The session must still be live.
// The stream ends when the client disconnects or the server shuts down.
func (h *Handler) ServeSSE(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	ctx := c.Request.Context()
	userID, err := mw.Authenticate(ctx, tokenStr, h.sec, h.c)
	if err != nil {
		c.JSON(mw.AuthStatus(err), gin.H{"error": err.Error()})
		return
	}

	mailChannel := mail.Channel(userID)
	msgCh, unsub, err := h.pubsub.Subscribe(ctx, mailChannel, announceChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications unavailable"})
		return
	}
	defer unsub()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(EventConnected, "{}")
	c.Writer.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return false
			}
			event := EventAnnounce
			if msg.Channel == mailChannel {
				event = EventMail
			}
			c.SSEvent(event, msg.Payload)
			return true
		case <-ticker.C:
			// Comment line; keeps idle proxies from closing the stream.
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		case <-ctx.Done():
			return false
		}
	})
}

// Announce publishes a system announcement to every connected stream.
func (h *Handler) Announce(ctx context.Context, message string) error {
	return h.pubsub.Publish(ctx, announceChannel, message)
}
