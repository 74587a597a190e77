package model

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// User levels. Higher levels include the privileges of lower ones.
const (
	LevelRestricted = 10
	LevelMember     = 20
	LevelGold       = 30
	LevelPlatinum   = 31
	LevelModerator  = 40
	LevelAdmin      = 50
)

// SystemUserName is the account that issues automatic sanctions.
const SystemUserName = "System"

// User is an account able to send and receive private messages.
// HasMail and UnreadMailCount are derived from the user's messages and are
// only ever written by the unread counter.
type User struct {
	ID                       int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                     string     `gorm:"uniqueIndex;size:32;not null" json:"name"`
	PasswordHash             string     `gorm:"size:64;not null" json:"-"`
	Email                    string     `gorm:"size:128" json:"-"`
	Level                    int        `gorm:"default:20;not null" json:"level"`
	ReceiveMailNotifications bool       `gorm:"not null" json:"receive_mail_notifications"`
	MailFilter               string     `gorm:"type:text" json:"-"`
	HasMail                  bool       `gorm:"default:false;not null" json:"has_mail"`
	UnreadMailCount          int        `gorm:"default:0;not null" json:"unread_mail_count"`
	BannedUntil              *time.Time `json:"banned_until"`
	CreatedAt                time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt              *time.Time `json:"-"`
	LastLoginIP              string     `gorm:"size:45" json:"-"`
}

// IsBanned reports whether the user is under an unexpired sanction at now.
func (u *User) IsBanned(now time.Time) bool {
	return u.BannedUntil != nil && u.BannedUntil.After(now)
}

func (u *User) IsModerator() bool { return u.Level >= LevelModerator }

// NormalizeName trims a user name and joins inner whitespace runs with
// underscores, so "  some  user " and "some_user" refer to the same account.
// Lookups compare the result case-insensitively.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), "_")
}

// FindUserByName looks a user up by normalized, case-insensitive name.
func FindUserByName(db *gorm.DB, name string) (*User, error) {
	var u User
	err := db.Where("LOWER(name) = ?", strings.ToLower(NormalizeName(name))).First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureSystemUser returns the system account, creating it on first use.
// It cannot log in: its password hash is not a valid bcrypt hash.
func EnsureSystemUser(db *gorm.DB) (*User, error) {
	var u User
	err := db.Where("name = ?", SystemUserName).First(&u).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	u = User{
		Name:                     SystemUserName,
		PasswordHash:             "!",
		Level:                    LevelAdmin,
		ReceiveMailNotifications: false,
	}
	if err := db.Create(&u).Error; err != nil {
		// Lost a creation race; the row exists now.
		var existing User
		if findErr := db.Where("name = ?", SystemUserName).First(&existing).Error; findErr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &u, nil
}
