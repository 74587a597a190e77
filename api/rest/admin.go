package rest

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/dmail/mail"
	"github.com/kasuganosora/dmail/model"
	"github.com/kasuganosora/dmail/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints. Sanctions issued here are
// attributed to the System user.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	store  *mail.Store
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(db *gorm.DB, store *mail.Store, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, store: store, sched: sched, logger: logger}
}

func (h *AdminHandler) system(c *gin.Context) (mail.Actor, bool) {
	u, err := h.store.Sanctions().SystemActor(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return mail.Actor{}, false
	}
	return mail.ActorOf(u), true
}

// Stats returns message and sanction totals.
// GET /api/admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	var users, copies, spam, unread int64
	db := h.db.WithContext(ctx)
	if err := db.Model(&model.User{}).Count(&users).Error; err != nil {
		writeError(c, h.logger, err)
		return
	}
	if err := db.Model(&model.Message{}).Count(&copies).Error; err != nil {
		writeError(c, h.logger, err)
		return
	}
	if err := db.Model(&model.Message{}).Where("is_spam = ?", true).Count(&spam).Error; err != nil {
		writeError(c, h.logger, err)
		return
	}
	if err := db.Model(&model.User{}).Select("COALESCE(SUM(unread_mail_count), 0)").Scan(&unread).Error; err != nil {
		writeError(c, h.logger, err)
		return
	}
	bans, err := h.store.Sanctions().Active(ctx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"users":           users,
		"message_copies":  copies,
		"spam_copies":     spam,
		"unread_total":    unread,
		"active_bans":     len(bans),
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// ListBans returns every unexpired, unlifted ban.
// GET /api/admin/bans
func (h *AdminHandler) ListBans(c *gin.Context) {
	bans, err := h.store.Sanctions().Active(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans, "count": len(bans)})
}

type banRequest struct {
	Reason   string `json:"reason" binding:"required,max=500"`
	Duration string `json:"duration" binding:"required"`
}

// BanUser sanctions a user for a duration such as "72h".
// POST /api/admin/users/:id/ban
func (h *AdminHandler) BanUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
		return
	}
	a, ok := h.system(c)
	if !ok {
		return
	}
	ban, err := h.store.Ban(c.Request.Context(), a, userID, req.Reason, d)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("admin banned user",
		zap.Int64("user_id", userID),
		zap.Duration("duration", d),
		zap.String("reason", req.Reason))
	c.JSON(http.StatusOK, gin.H{"ban": ban})
}

// UnbanUser lifts every active ban of a user.
// DELETE /api/admin/users/:id/ban
func (h *AdminHandler) UnbanUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	a, ok := h.system(c)
	if !ok {
		return
	}
	if err := h.store.Unban(c.Request.Context(), a, userID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("admin unbanned user", zap.Int64("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListSchedulerTasks returns the registered periodic tasks with their last run.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints answer 503; set a non-empty
// server.admin_key in config to enable them.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
