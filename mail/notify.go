package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kasuganosora/dmail/cache"
	"github.com/kasuganosora/dmail/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier is told about a newly delivered message after it has committed.
// Delivery is best effort; implementations log their own failures.
type Notifier interface {
	Notify(ctx context.Context, m *model.Message, recipient *model.User)
}

// Notice is the payload published for a new message.
type Notice struct {
	MessageID   int64     `json:"message_id"`
	FromID      int64     `json:"from_id"`
	FromName    string    `json:"from_name"`
	Title       string    `json:"title"`
	UnreadCount int       `json:"unread_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Channel is the pub/sub channel carrying notices for userID.
func Channel(userID int64) string {
	return fmt.Sprintf("mail:%d", userID)
}

// PubSubNotifier publishes notices on the recipient's channel.
type PubSubNotifier struct {
	ps     cache.PubSub
	names  func(ctx context.Context, userID int64) string
	logger *zap.Logger
}

// NewPubSubNotifier creates a PubSubNotifier. names resolves the sender's
// display name and may be nil.
func NewPubSubNotifier(ps cache.PubSub, names func(ctx context.Context, userID int64) string, logger *zap.Logger) *PubSubNotifier {
	return &PubSubNotifier{ps: ps, names: names, logger: logger}
}

func (n *PubSubNotifier) Notify(ctx context.Context, m *model.Message, recipient *model.User) {
	notice := Notice{
		MessageID:   m.ID,
		FromID:      m.FromID,
		Title:       m.Title,
		UnreadCount: recipient.UnreadMailCount,
		CreatedAt:   m.CreatedAt,
	}
	if n.names != nil {
		notice.FromName = n.names(ctx, m.FromID)
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		n.logger.Error("marshal mail notice", zap.Error(err))
		return
	}
	if err := n.ps.Publish(ctx, Channel(recipient.ID), string(payload)); err != nil {
		n.logger.Warn("publish mail notice failed",
			zap.Int64("user_id", recipient.ID),
			zap.Int64("message_id", m.ID),
			zap.Error(err))
	}
}

const nameTTL = 10 * time.Minute

// UserNames returns a resolver for notice sender names that reads through
// c. Names never change once registered, so cached entries only expire to
// bound the cache. A missing user resolves to "".
func UserNames(db *gorm.DB, c cache.Cache, logger *zap.Logger) func(ctx context.Context, userID int64) string {
	return func(ctx context.Context, userID int64) string {
		key := fmt.Sprintf("user:name:%d", userID)
		if c != nil {
			name, err := c.Get(ctx, key)
			if err == nil {
				return name
			}
			if !cache.IsNotFound(err) {
				logger.Debug("sender name cache read", zap.Int64("user_id", userID), zap.Error(err))
			}
		}
		var names []string
		if err := db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Limit(1).Pluck("name", &names).Error; err != nil {
			logger.Warn("resolve sender name", zap.Int64("user_id", userID), zap.Error(err))
			return ""
		}
		if len(names) == 0 {
			return ""
		}
		if c != nil {
			_ = c.Set(ctx, key, names[0], nameTTL)
		}
		return names[0]
	}
}

// NopNotifier drops every notice.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *model.Message, *model.User) {}
