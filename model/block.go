package model

import "time"

// UserBlock records that UserID refuses private messages from BlockedID.
type UserBlock struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex:idx_user_block;not null" json:"user_id"`
	BlockedID int64     `gorm:"uniqueIndex:idx_user_block;not null" json:"blocked_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
