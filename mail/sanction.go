package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kasuganosora/dmail/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReasonSpam is recorded on sanctions issued by the autoban policy.
const ReasonSpam = "spam"

// Sanctions issues and lifts bans. A ban row is immutable apart from the
// LiftedAt stamp; the user's BannedUntil mirrors the latest active ban.
type Sanctions struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time

	sysMu  sync.Mutex
	system *model.User
}

// NewSanctions creates a Sanctions service.
func NewSanctions(db *gorm.DB, logger *zap.Logger) *Sanctions {
	return &Sanctions{db: db, logger: logger, now: time.Now}
}

// SystemActor returns the account automatic sanctions are issued by.
func (s *Sanctions) SystemActor(ctx context.Context) (*model.User, error) {
	s.sysMu.Lock()
	defer s.sysMu.Unlock()
	if s.system != nil {
		return s.system, nil
	}
	u, err := model.EnsureSystemUser(s.db.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("system user: %w", err)
	}
	s.system = u
	return u, nil
}

// Create bans userID for d, issued by bannerID.
func (s *Sanctions) Create(ctx context.Context, userID, bannerID int64, reason string, d time.Duration) (*model.Ban, error) {
	if d <= 0 {
		return nil, ValidationErrors{{Field: "duration", Message: "must be positive"}}
	}
	now := s.now().UTC()
	ban := &model.Ban{
		UserID:    userID,
		BannerID:  bannerID,
		Reason:    reason,
		Duration:  int64(d / time.Second),
		ExpiresAt: now.Add(d),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u model.User
		if err := tx.First(&u, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := tx.Create(ban).Error; err != nil {
			return err
		}
		// Never shorten a longer ban that is already running.
		if u.BannedUntil != nil && u.BannedUntil.After(ban.ExpiresAt) {
			return nil
		}
		return tx.Model(&model.User{}).Where("id = ?", userID).
			Update("banned_until", ban.ExpiresAt).Error
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user banned",
		zap.Int64("user_id", userID),
		zap.Int64("banner_id", bannerID),
		zap.String("reason", reason),
		zap.Time("expires_at", ban.ExpiresAt))
	return ban, nil
}

// Lift ends every active ban of userID now.
func (s *Sanctions) Lift(ctx context.Context, userID int64) error {
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u model.User
		if err := tx.Select("id").First(&u, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := tx.Model(&model.User{}).Where("id = ?", userID).
			Update("banned_until", nil).Error; err != nil {
			return err
		}
		return tx.Model(&model.Ban{}).
			Where("user_id = ? AND lifted_at IS NULL AND expires_at > ?", userID, now).
			Update("lifted_at", now).Error
	})
	if err != nil {
		return err
	}
	s.logger.Info("user unbanned", zap.Int64("user_id", userID))
	return nil
}

// Active lists bans that have neither expired nor been lifted, newest first.
func (s *Sanctions) Active(ctx context.Context) ([]model.Ban, error) {
	var bans []model.Ban
	err := s.db.WithContext(ctx).
		Where("lifted_at IS NULL AND expires_at > ?", s.now().UTC()).
		Order("created_at DESC, id DESC").
		Find(&bans).Error
	return bans, err
}

// ExpireLapsed clears BannedUntil on users whose ban has run out and
// returns how many were cleared.
func (s *Sanctions) ExpireLapsed(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("banned_until IS NOT NULL AND banned_until <= ?", s.now().UTC()).
		Update("banned_until", nil)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.logger.Info("lapsed bans cleared", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
