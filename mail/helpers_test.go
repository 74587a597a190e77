package mail

import (
	"context"
	"sync"
	"testing"

	"github.com/kasuganosora/dmail/config"
	"github.com/kasuganosora/dmail/model"
	"github.com/kasuganosora/dmail/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func testMailConfig() config.MailConfig {
	cfg := config.Default().Mail
	cfg.TokenSecret = "test-secret"
	cfg.AutobanThreshold = 3
	cfg.HourlyLimit = 0
	return cfg
}

func newTestStore(t *testing.T, cfg config.MailConfig, opts Options) (*Store, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return NewStore(db, cfg, opts, zap.NewNop()), db
}

type spamFunc func(d Draft) bool

func (f spamFunc) Classify(_ context.Context, d Draft, _ *model.User) bool { return f(d) }

var alwaysSpam = spamFunc(func(Draft) bool { return true })

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*model.Message
	to   []int64
}

func (r *recordingNotifier) Notify(_ context.Context, m *model.Message, recipient *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	r.to = append(r.to, recipient.ID)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func countMessages(t *testing.T, db *gorm.DB, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(&model.Message{})
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

// assertUnreadConsistent checks the stored counter against the messages.
func assertUnreadConsistent(t *testing.T, db *gorm.DB, userID int64) {
	t.Helper()
	u := testutil.ReloadUser(t, db, userID)
	want := countMessages(t, db, "owner_id = ? AND is_read = ? AND is_deleted = ?", userID, false, false)
	require.Equal(t, want, int64(u.UnreadMailCount), "unread_mail_count of user %d", userID)
	require.Equal(t, want > 0, u.HasMail, "has_mail of user %d", userID)
}
