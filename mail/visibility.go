package mail

import (
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"

	"github.com/kasuganosora/dmail/model"
	"golang.org/x/crypto/blake2b"
)

// Guard decides who may view a message copy. Owners always may; a
// privileged non-owner needs the copy's key, a keyed digest of its title
// and body that cannot be computed without the process secret.
type Guard struct {
	secret []byte
}

// NewGuard returns a Guard keyed with secret. Secrets longer than a
// BLAKE2b key are hashed down first.
func NewGuard(secret []byte) *Guard {
	if len(secret) > blake2b.Size {
		sum := blake2b.Sum512(secret)
		secret = sum[:]
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Guard{secret: key}
}

// Token derives the key for a copy with the given title and body.
func (g *Guard) Token(title, body string) string {
	h, err := blake2b.New256(g.secret)
	if err != nil {
		// Only possible for keys over 64 bytes, which NewGuard prevents.
		panic(err)
	}
	// Length-prefix the title so ("ab","c") and ("a","bc") differ.
	var n [binary.MaxVarintLen64]byte
	h.Write(n[:binary.PutUvarint(n[:], uint64(len(title)))])
	h.Write([]byte(title))
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether token is the key of m.
func (g *Guard) Verify(m *model.Message, token string) bool {
	if token == "" {
		return false
	}
	want := g.Token(m.Title, m.Body)
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}

// CanView reports whether a may read m, presenting token if it has one.
func (g *Guard) CanView(m *model.Message, a Actor, token string) bool {
	if m.OwnerID == a.ID {
		return true
	}
	return a.Privileged() && g.Verify(m, token)
}
