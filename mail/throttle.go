package mail

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kasuganosora/dmail/cache"
)

// Throttle caps how many messages a user may send per hour using a fixed
// window counter in the cache. Reached only reads the counter; a send is
// counted by Record once it has been stored.
type Throttle struct {
	cache  cache.Cache
	limit  int
	window time.Duration
}

// NewThrottle creates a Throttle. A limit of zero or less disables it.
func NewThrottle(c cache.Cache, limit int) *Throttle {
	return &Throttle{cache: c, limit: limit, window: time.Hour}
}

func throttleKey(userID int64) string {
	return fmt.Sprintf("mail:rate:%d", userID)
}

func (t *Throttle) disabled() bool {
	return t == nil || t.cache == nil || t.limit <= 0
}

// Reached reports whether userID has used up the current window.
func (t *Throttle) Reached(ctx context.Context, userID int64) (bool, error) {
	if t.disabled() {
		return false, nil
	}
	v, err := t.cache.Get(ctx, throttleKey(userID))
	if cache.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false, err
	}
	return n >= int64(t.limit), nil
}

// Record counts one stored send for userID.
func (t *Throttle) Record(ctx context.Context, userID int64) error {
	if t.disabled() {
		return nil
	}
	_, err := t.cache.Incr(ctx, throttleKey(userID), t.window)
	return err
}
