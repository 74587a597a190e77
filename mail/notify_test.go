package mail

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kasuganosora/dmail/model"
	"github.com/kasuganosora/dmail/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPubSubNotifier(t *testing.T) {
	_, ps := testutil.SetupTestCache(t)
	ctx := context.Background()
	ch, cancel, err := ps.Subscribe(ctx, Channel(7))
	require.NoError(t, err)
	defer cancel()

	n := NewPubSubNotifier(ps, func(context.Context, int64) string { return "alice" }, zap.NewNop())
	n.Notify(ctx,
		&model.Message{ID: 11, OwnerID: 7, FromID: 3, ToID: 7, Title: "Hi"},
		&model.User{ID: 7, UnreadMailCount: 2})

	select {
	case msg := <-ch:
		assert.Equal(t, "mail:7", msg.Channel)
		var notice Notice
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &notice))
		assert.Equal(t, int64(11), notice.MessageID)
		assert.Equal(t, int64(3), notice.FromID)
		assert.Equal(t, "alice", notice.FromName)
		assert.Equal(t, "Hi", notice.Title)
		assert.Equal(t, 2, notice.UnreadCount)
	case <-time.After(time.Second):
		t.Fatal("no notice published")
	}
}

func TestSend_PublishesNotice(t *testing.T) {
	_, ps := testutil.SetupTestCache(t)
	n := NewPubSubNotifier(ps, nil, zap.NewNop())
	st, db := newTestStore(t, testMailConfig(), Options{Notifier: n})
	alice := testutil.CreateUser(t, db, "alice", model.LevelMember)
	bob := testutil.CreateUser(t, db, "bob", model.LevelMember)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, Channel(bob.ID))
	require.NoError(t, err)
	defer cancel()

	res := sendOne(t, st, alice, bob)
	select {
	case msg := <-ch:
		var notice Notice
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &notice))
		assert.Equal(t, res.RecipientCopy.ID, notice.MessageID)
		assert.Equal(t, 1, notice.UnreadCount)
	case <-time.After(time.Second):
		t.Fatal("no notice published")
	}
}

func TestUserNames(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	alice := testutil.CreateUser(t, db, "alice", model.LevelMember)
	names := UserNames(db, c, zap.NewNop())
	ctx := context.Background()

	assert.Equal(t, "alice", names(ctx, alice.ID))
	assert.Equal(t, "", names(ctx, 999))

	// Served from the cache after the first lookup.
	require.NoError(t, db.Delete(&model.User{}, alice.ID).Error)
	assert.Equal(t, "alice", names(ctx, alice.ID))

	assert.Equal(t, "", UserNames(db, nil, zap.NewNop())(ctx, alice.ID))
}
