package mail

import "github.com/kasuganosora/dmail/model"

// SendEvent is the payload of the BeforeMailSend and OnMailSent hooks.
// The copies are nil for BeforeMailSend.
type SendEvent struct {
	Sender        *model.User    `json:"-"`
	Recipient     *model.User    `json:"-"`
	Draft         Draft          `json:"-"`
	RecipientCopy *model.Message `json:"recipient_copy,omitempty"`
	SenderCopy    *model.Message `json:"sender_copy,omitempty"`
	Spam          bool           `json:"spam"`
	Filtered      bool           `json:"filtered"`
}

func (e *SendEvent) AuditSubject() (int64, string) { return e.Sender.ID, e.Sender.Name }

// CopyEvent is the payload of the OnMailRead, OnMailDeleted and
// OnMailUndeleted hooks.
type CopyEvent struct {
	Actor     Actor `json:"-"`
	MessageID int64 `json:"message_id"`
	Count     int64 `json:"count"`
}

func (e *CopyEvent) AuditSubject() (int64, string) { return e.Actor.ID, "" }

// BanEvent is the payload of the ban related hooks.
type BanEvent struct {
	UserID int64      `json:"user_id"`
	Ban    *model.Ban `json:"ban,omitempty"`
}

func (e *BanEvent) AuditSubject() (int64, string) { return e.UserID, "" }
