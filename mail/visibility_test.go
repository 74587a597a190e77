package mail

import (
	"strings"
	"testing"

	"github.com/kasuganosora/dmail/model"
	"github.com/stretchr/testify/assert"
)

func TestGuard_Token(t *testing.T) {
	g := NewGuard([]byte("secret"))

	tok := g.Token("Hi", "hello")
	assert.Len(t, tok, 64)
	assert.Equal(t, tok, g.Token("Hi", "hello"), "deterministic")
	assert.NotEqual(t, tok, g.Token("Hi", "hello!"))
	assert.NotEqual(t, tok, g.Token("hi", "hello"))
	assert.NotEqual(t, g.Token("ab", "c"), g.Token("a", "bc"))
	assert.NotEqual(t, tok, NewGuard([]byte("other")).Token("Hi", "hello"), "keyed by the secret")
}

func TestGuard_LongSecret(t *testing.T) {
	long := []byte(strings.Repeat("k", 200))
	g := NewGuard(long)
	assert.Equal(t, g.Token("a", "b"), NewGuard(long).Token("a", "b"))
}

func TestGuard_CanView(t *testing.T) {
	g := NewGuard([]byte("secret"))
	m := &model.Message{ID: 1, OwnerID: 10, FromID: 20, ToID: 10, Title: "Hi", Body: "hello"}
	key := g.Token(m.Title, m.Body)

	owner := Actor{ID: 10, Level: model.LevelRestricted}
	mod := Actor{ID: 30, Level: model.LevelModerator}
	member := Actor{ID: 40, Level: model.LevelMember}
	sender := Actor{ID: 20, Level: model.LevelMember}

	assert.True(t, g.CanView(m, owner, ""))
	assert.True(t, g.CanView(m, owner, "garbage"))
	assert.True(t, g.CanView(m, mod, key))
	assert.False(t, g.CanView(m, mod, ""))
	assert.False(t, g.CanView(m, mod, g.Token("Hi", "other")))
	assert.False(t, g.CanView(m, mod, key[:10]))
	assert.False(t, g.CanView(m, member, key))
	// The sender does not own the recipient's copy.
	assert.False(t, g.CanView(m, sender, key))
}
