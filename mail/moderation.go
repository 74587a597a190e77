package mail

import (
	"context"
	"time"

	"github.com/kasuganosora/dmail/model"
	"github.com/kasuganosora/dmail/plugin/hook"
)

// Ban sanctions userID on behalf of a privileged actor.
func (st *Store) Ban(ctx context.Context, a Actor, userID int64, reason string, d time.Duration) (*model.Ban, error) {
	if !a.Privileged() {
		return nil, ErrForbidden
	}
	if reason == "" {
		return nil, ValidationErrors{{Field: "reason", Message: "can't be blank"}}
	}
	ban, err := st.sanctions.Create(ctx, userID, a.ID, reason, d)
	if err != nil {
		return nil, err
	}
	st.fire(ctx, hook.OnUserBanned, &BanEvent{UserID: userID, Ban: ban})
	return ban, nil
}

// Unban lifts every active ban of userID on behalf of a privileged actor.
func (st *Store) Unban(ctx context.Context, a Actor, userID int64) error {
	if !a.Privileged() {
		return ErrForbidden
	}
	if err := st.sanctions.Lift(ctx, userID); err != nil {
		return err
	}
	st.fire(ctx, hook.OnUserUnbanned, &BanEvent{UserID: userID})
	return nil
}
