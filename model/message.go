package model

import "time"

// Message is one owner's copy of a private message. Sending creates a copy
// for the recipient and one for the sender; each copy is read, deleted and
// spam-flagged independently of the other.
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID   int64     `gorm:"index:idx_message_owner;not null" json:"owner_id"`
	FromID    int64     `gorm:"index:idx_message_from;not null" json:"from_id"`
	ToID      int64     `gorm:"index:idx_message_to;not null" json:"to_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	IsRead    bool      `gorm:"index:idx_message_owner;default:false;not null" json:"is_read"`
	IsDeleted bool      `gorm:"index:idx_message_owner;default:false;not null" json:"is_deleted"`
	IsSpam    bool      `gorm:"index:idx_message_from;default:false;not null" json:"is_spam"`
	CreatedAt time.Time `gorm:"index:idx_message_from;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsRecipientCopy reports whether this copy sits in the recipient's inbox.
// A message sent to oneself is both.
func (m *Message) IsRecipientCopy() bool { return m.OwnerID == m.ToID }

// IsSenderCopy reports whether this copy is the sender's outbox record.
func (m *Message) IsSenderCopy() bool { return m.OwnerID == m.FromID }
