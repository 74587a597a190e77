package model

import "time"

// Ban is a time-limited sanction against a user. Rows are never updated;
// lifting a ban early clears User.BannedUntil and sets LiftedAt.
type Ban struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64      `gorm:"index:idx_ban_user;not null" json:"user_id"`
	BannerID  int64      `gorm:"not null" json:"banner_id"`
	Reason    string     `gorm:"type:text;not null" json:"reason"`
	Duration  int64      `gorm:"not null" json:"duration_s"`
	ExpiresAt time.Time  `gorm:"index:idx_ban_user;not null" json:"expires_at"`
	LiftedAt  *time.Time `json:"lifted_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
