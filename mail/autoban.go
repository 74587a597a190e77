package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/dmail/model"
	"gorm.io/gorm"
)

// AutobanPolicy bans senders who spam too many distinct recipients within
// a trailing window. Users at or above the exempt level are never banned.
//
// Two concurrent sends may both observe a count just under the threshold;
// the ban then lands on the sender's next send instead.
type AutobanPolicy struct {
	db          *gorm.DB
	sanctions   *Sanctions
	window      time.Duration
	threshold   int
	duration    time.Duration
	exemptLevel int
	now         func() time.Time
}

// NewAutobanPolicy creates an AutobanPolicy.
func NewAutobanPolicy(db *gorm.DB, s *Sanctions, window time.Duration, threshold int, duration time.Duration, exemptLevel int) *AutobanPolicy {
	return &AutobanPolicy{
		db:          db,
		sanctions:   s,
		window:      window,
		threshold:   threshold,
		duration:    duration,
		exemptLevel: exemptLevel,
		now:         time.Now,
	}
}

// SpamRecipients counts the distinct users senderID sent spam-flagged
// copies to within the window ending now.
func (p *AutobanPolicy) SpamRecipients(ctx context.Context, senderID int64) (int64, error) {
	since := p.now().UTC().Add(-p.window)
	var n int64
	err := p.db.WithContext(ctx).Model(&model.Message{}).
		Where("from_id = ? AND owner_id <> ? AND is_spam = ? AND created_at > ?",
			senderID, senderID, true, since).
		Distinct("to_id").
		Count(&n).Error
	return n, err
}

// Evaluate bans senderID when the spam count reaches the threshold. It
// returns the new ban, or nil when none was issued. A sender who is
// already banned is left alone, so repeated evaluation issues one ban.
func (p *AutobanPolicy) Evaluate(ctx context.Context, senderID int64) (*model.Ban, error) {
	if p.threshold <= 0 {
		return nil, nil
	}
	var sender model.User
	if err := p.db.WithContext(ctx).First(&sender, senderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if sender.Level >= p.exemptLevel || sender.IsBanned(p.now().UTC()) {
		return nil, nil
	}

	n, err := p.SpamRecipients(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("count spam recipients: %w", err)
	}
	if n < int64(p.threshold) {
		return nil, nil
	}

	system, err := p.sanctions.SystemActor(ctx)
	if err != nil {
		return nil, err
	}
	ban, err := p.sanctions.Create(ctx, senderID, system.ID, ReasonSpam, p.duration)
	if err != nil {
		return nil, err
	}
	metricAutobans.Inc()
	return ban, nil
}
