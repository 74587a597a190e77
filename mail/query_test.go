package mail

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/dmail/model"
	"github.com/kasuganosora/dmail/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTruthy(t *testing.T) {
	for _, s := range []string{"1", "t", "TRUE", "yes", "Y", "on"} {
		v, ok, err := ParseTruthy(s)
		require.NoError(t, err, s)
		assert.True(t, ok)
		assert.True(t, v, s)
	}
	for _, s := range []string{"0", "f", "false", "No", "off"} {
		v, ok, err := ParseTruthy(s)
		require.NoError(t, err, s)
		assert.True(t, ok)
		assert.False(t, v, s)
	}
	_, ok, err := ParseTruthy("")
	assert.NoError(t, err)
	assert.False(t, ok)
	_, _, err = ParseTruthy("maybe")
	assert.Error(t, err)
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%hello%", likePattern("Hello"))
	assert.Equal(t, "hel%o", likePattern("hel*o"))
	assert.Equal(t, "%100!%!_off!!%", likePattern("100%_off!"))
}

type searchFixture struct {
	st                *Store
	alice, bob, carol *model.User
}

// newSearchFixture seeds bob's mailbox:
//
//	1 from alice "Lunch plans"      unread
//	2 from carol "Release notes"    read
//	3 from alice "Cheap pills"      spam
//	4 from carol "Old news"         deleted
//	5 to alice   "Re: Lunch plans"  sent
func newSearchFixture(t *testing.T) *searchFixture {
	t.Helper()
	st, db := newTestStore(t, testMailConfig(), Options{})
	f := &searchFixture{
		st:    st,
		alice: testutil.CreateUser(t, db, "alice", model.LevelMember),
		bob:   testutil.CreateUser(t, db, "Bob_Smith", model.LevelMember),
		carol: testutil.CreateUser(t, db, "carol", model.LevelMember),
	}
	base := time.Now().UTC().Add(-time.Hour)
	rows := []model.Message{
		{OwnerID: f.bob.ID, FromID: f.alice.ID, ToID: f.bob.ID, Title: "Lunch plans", Body: "Noodles at noon? 100% worth it"},
		{OwnerID: f.bob.ID, FromID: f.carol.ID, ToID: f.bob.ID, Title: "Release notes", Body: "v2 ships friday", IsRead: true},
		{OwnerID: f.bob.ID, FromID: f.alice.ID, ToID: f.bob.ID, Title: "Cheap pills", Body: "buy now", IsSpam: true},
		{OwnerID: f.bob.ID, FromID: f.carol.ID, ToID: f.bob.ID, Title: "Old news", Body: "nothing", IsDeleted: true},
		{OwnerID: f.bob.ID, FromID: f.bob.ID, ToID: f.alice.ID, Title: "Re: Lunch plans", Body: "sure", IsRead: true},
		// alice's own copy must never show up in bob's searches.
		{OwnerID: f.alice.ID, FromID: f.alice.ID, ToID: f.bob.ID, Title: "Lunch plans", Body: "Noodles at noon?", IsRead: true},
	}
	for i := range rows {
		rows[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, db.Create(&rows[i]).Error)
	}
	return f
}

func (f *searchFixture) titles(t *testing.T, s Search) []string {
	t.Helper()
	msgs, err := f.st.Search(context.Background(), ActorOf(f.bob), s)
	require.NoError(t, err)
	out := make([]string, len(msgs))
	for i, m := range msgs {
		assert.Equal(t, f.bob.ID, m.OwnerID)
		out[i] = m.Title
	}
	return out
}

func TestSearch_Criteria(t *testing.T) {
	f := newSearchFixture(t)

	cases := []struct {
		name string
		s    Search
		want []string
	}{
		{"default hides spam, newest first", Search{}, []string{"Re: Lunch plans", "Old news", "Release notes", "Lunch plans"}},
		{"oldest first", Search{Order: "oldest"}, []string{"Lunch plans", "Release notes", "Old news", "Re: Lunch plans"}},
		{"title contains", Search{TitleMatches: "lunch"}, []string{"Re: Lunch plans", "Lunch plans"}},
		{"title wildcard", Search{TitleMatches: "lunch*"}, []string{"Lunch plans"}},
		{"body contains literal percent", Search{MessageMatches: "100%"}, []string{"Lunch plans"}},
		{"percent is not a wildcard", Search{MessageMatches: "v%ships"}, []string{}},
		{"from name", Search{FromName: "CAROL"}, []string{"Old news", "Release notes"}},
		{"to name normalized", Search{ToName: " bob  smith"}, []string{"Old news", "Release notes", "Lunch plans"}},
		{"to id", Search{ToID: f.alice.ID}, []string{"Re: Lunch plans"}},
		{"from id", Search{FromID: f.alice.ID}, []string{"Lunch plans"}},
		{"spam only", Search{IsSpam: "yes"}, []string{"Cheap pills"}},
		{"unread", Search{IsRead: "false"}, []string{"Old news", "Lunch plans"}},
		{"read shorthand", Search{Read: "1"}, []string{"Re: Lunch plans", "Release notes"}},
		{"active only", Search{IsDeleted: "no"}, []string{"Re: Lunch plans", "Release notes", "Lunch plans"}},
		{"conjunction", Search{FromName: "carol", IsDeleted: "f"}, []string{"Release notes"}},
		{"unknown name", Search{FromName: "nobody"}, []string{}},
		{"limit", Search{Limit: 1}, []string{"Re: Lunch plans"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.titles(t, tc.s))
		})
	}
}

func TestSearch_Folders(t *testing.T) {
	f := newSearchFixture(t)

	assert.Equal(t, []string{"Release notes", "Lunch plans"}, f.titles(t, Search{Folder: FolderReceived}))
	assert.Equal(t, []string{"Re: Lunch plans"}, f.titles(t, Search{Folder: FolderSent}))
	assert.Equal(t, []string{"Lunch plans"}, f.titles(t, Search{Folder: FolderUnread}))
	assert.Equal(t, []string{"Cheap pills"}, f.titles(t, Search{Folder: FolderSpam}))
	assert.Equal(t, []string{"Old news"}, f.titles(t, Search{Folder: FolderDeleted}))

	// An explicit is_deleted overrides the folder's default.
	assert.Equal(t, []string{"Old news"}, f.titles(t, Search{Folder: FolderReceived, IsDeleted: "true"}))
	assert.Equal(t, []string{"Old news"}, f.titles(t, Search{Folder: FolderUnread, IsDeleted: "yes"}))
}

func TestSearch_DeleteMovesCopyOutOfFolders(t *testing.T) {
	st, db := newTestStore(t, testMailConfig(), Options{})
	ctx := context.Background()
	alice := testutil.CreateUser(t, db, "alice", model.LevelMember)
	bob := testutil.CreateUser(t, db, "bob", model.LevelMember)

	res, err := st.CreateSplit(ctx, Draft{Title: "hi", Body: "there"}, alice.ID, bob.ID, false, false)
	require.NoError(t, err)
	copyID := res.RecipientCopy.ID

	ids := func(u *model.User, folder string) []int64 {
		t.Helper()
		msgs, err := st.Search(ctx, ActorOf(u), Search{Folder: folder})
		require.NoError(t, err)
		out := []int64{}
		for _, m := range msgs {
			out = append(out, m.ID)
		}
		return out
	}
	require.Equal(t, []int64{copyID}, ids(bob, FolderReceived))
	require.Equal(t, []int64{copyID}, ids(bob, FolderUnread))

	require.NoError(t, st.Delete(ctx, ActorOf(bob), copyID))
	assert.Empty(t, ids(bob, FolderReceived))
	assert.Empty(t, ids(bob, FolderUnread))
	assert.Equal(t, []int64{copyID}, ids(bob, FolderDeleted))
	assert.Equal(t, []int64{res.SenderCopy.ID}, ids(alice, FolderSent), "sender copy unaffected")

	require.NoError(t, st.Undelete(ctx, ActorOf(bob), copyID))
	assert.Equal(t, []int64{copyID}, ids(bob, FolderReceived))
	assert.Empty(t, ids(bob, FolderDeleted))
}

func TestSearch_Invalid(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	for _, s := range []Search{{IsRead: "maybe"}, {Folder: "archive"}, {Order: "random"}} {
		_, err := f.st.Search(ctx, ActorOf(f.bob), s)
		var verrs ValidationErrors
		assert.ErrorAs(t, err, &verrs, "%+v", s)
	}
}
