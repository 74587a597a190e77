package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/dmail/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UnreadCounter keeps User.UnreadMailCount and User.HasMail equal to the
// number of the user's non-deleted unread copies. The fields are always
// recomputed from the messages table, never adjusted in place.
type UnreadCounter struct {
	db *gorm.DB
}

// NewUnreadCounter creates an UnreadCounter.
func NewUnreadCounter(db *gorm.DB) *UnreadCounter {
	return &UnreadCounter{db: db}
}

// Resync recounts userID's unread copies and stores the count and flag
// together. It returns the new count.
func (uc *UnreadCounter) Resync(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := uc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		n, err = uc.resyncIn(tx, userID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("resync unread for user %d: %w", userID, err)
	}
	return n, nil
}

// resyncIn recounts inside tx, after whatever change tx already made to
// the user's copies.
func (uc *UnreadCounter) resyncIn(tx *gorm.DB, userID int64) (int64, error) {
	// Lock the user row so concurrent resyncs for one user serialize and
	// the last write carries the freshest count.
	var u model.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	var n int64
	if err := tx.Model(&model.Message{}).
		Where("owner_id = ? AND is_read = ? AND is_deleted = ?", userID, false, false).
		Count(&n).Error; err != nil {
		return 0, err
	}
	err := tx.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"unread_mail_count": n,
		"has_mail":          n > 0,
	}).Error
	return n, err
}
