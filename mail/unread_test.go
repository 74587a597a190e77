package mail

import (
	"context"
	"testing"

	"github.com/kasuganosora/dmail/model"
	"github.com/kasuganosora/dmail/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResync(t *testing.T) {
	db := testutil.SetupTestDB(t)
	uc := NewUnreadCounter(db)
	u := testutil.CreateUser(t, db, "u", model.LevelMember)
	other := testutil.CreateUser(t, db, "other", model.LevelMember)
	ctx := context.Background()

	rows := []model.Message{
		{OwnerID: u.ID, FromID: other.ID, ToID: u.ID, Title: "a", Body: "x"},
		{OwnerID: u.ID, FromID: other.ID, ToID: u.ID, Title: "b", Body: "x"},
		{OwnerID: u.ID, FromID: other.ID, ToID: u.ID, Title: "c", Body: "x", IsRead: true},
		{OwnerID: u.ID, FromID: other.ID, ToID: u.ID, Title: "d", Body: "x", IsDeleted: true},
		{OwnerID: other.ID, FromID: u.ID, ToID: other.ID, Title: "e", Body: "x"},
	}
	require.NoError(t, db.Create(&rows).Error)
	// Counter starts out wrong on purpose.
	require.NoError(t, db.Model(u).Updates(map[string]interface{}{"unread_mail_count": 40, "has_mail": false}).Error)

	n, err := uc.Resync(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	got := testutil.ReloadUser(t, db, u.ID)
	assert.Equal(t, 2, got.UnreadMailCount)
	assert.True(t, got.HasMail)

	require.NoError(t, db.Model(&model.Message{}).Where("owner_id = ?", u.ID).Update("is_read", true).Error)
	n, err = uc.Resync(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	got = testutil.ReloadUser(t, db, u.ID)
	assert.Equal(t, 0, got.UnreadMailCount)
	assert.False(t, got.HasMail)
}

func TestResync_UnknownUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, err := NewUnreadCounter(db).Resync(context.Background(), 77)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
