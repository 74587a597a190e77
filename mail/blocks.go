package mail

import (
	"context"

	"github.com/kasuganosora/dmail/model"
	"gorm.io/gorm/clause"
)

func (st *Store) isBlocked(ctx context.Context, userID, senderID int64) (bool, error) {
	var n int64
	err := st.db.WithContext(ctx).Model(&model.UserBlock{}).
		Where("user_id = ? AND blocked_id = ?", userID, senderID).
		Count(&n).Error
	return n > 0, err
}

// Block stops targetID from sending messages to the actor. Blocking twice
// is a no-op.
func (st *Store) Block(ctx context.Context, a Actor, targetID int64) error {
	if targetID == a.ID {
		return ValidationErrors{{Field: "user_id", Message: "cannot block yourself"}}
	}
	if _, err := st.loadUser(ctx, targetID); err != nil {
		return err
	}
	return st.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.UserBlock{UserID: a.ID, BlockedID: targetID}).Error
}

// Unblock lifts a block. It returns ErrNotFound if there was none.
func (st *Store) Unblock(ctx context.Context, a Actor, targetID int64) error {
	res := st.db.WithContext(ctx).
		Where("user_id = ? AND blocked_id = ?", a.ID, targetID).
		Delete(&model.UserBlock{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BlockedUser is one entry of a block list.
type BlockedUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Blocks lists the users the actor has blocked.
func (st *Store) Blocks(ctx context.Context, a Actor) ([]BlockedUser, error) {
	var out []BlockedUser
	err := st.db.WithContext(ctx).Model(&model.UserBlock{}).
		Select("users.id AS id, users.name AS name").
		Joins("JOIN users ON users.id = user_blocks.blocked_id").
		Where("user_blocks.user_id = ?", a.ID).
		Order("users.name").
		Scan(&out).Error
	return out, err
}
