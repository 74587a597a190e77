package mail

import (
	"context"
	"errors"
	"strings"

	"github.com/kasuganosora/dmail/model"
	"gorm.io/gorm"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 100
)

// Search folders.
const (
	FolderReceived = "received"
	FolderSent     = "sent"
	FolderUnread   = "unread"
	FolderSpam     = "spam"
	FolderDeleted  = "deleted"
)

// Search is a message search. Empty fields impose no constraint, except
// that spam is excluded unless IsSpam or the spam folder asks for it. The
// received, sent and unread folders hold live copies only unless
// IsDeleted says otherwise.
// Boolean fields accept the usual truthy and falsy spellings.
type Search struct {
	TitleMatches   string `form:"title_matches"`
	MessageMatches string `form:"message_matches"`
	ToName         string `form:"to_name"`
	FromName       string `form:"from_name"`
	ToID           int64  `form:"to_id"`
	FromID         int64  `form:"from_id"`
	IsSpam         string `form:"is_spam"`
	IsRead         string `form:"is_read"`
	IsDeleted      string `form:"is_deleted"`
	Read           string `form:"read"`
	Folder         string `form:"folder"`
	Order          string `form:"order"`
	Limit          int    `form:"limit"`
}

// ParseTruthy reads a loosely spelled boolean. ok is false for an empty
// string; err is set for anything unrecognized.
func ParseTruthy(s string) (value, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return false, false, nil
	case "1", "t", "true", "y", "yes", "on":
		return true, true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, true, nil
	}
	return false, false, errNotTruthy
}

var errNotTruthy = errors.New("mail: not a boolean")

// likePattern turns user input into a LIKE pattern escaped with '!'.
// A '*' is a wildcard; input without one matches anywhere.
func likePattern(s string) string {
	p := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(strings.ToLower(s))
	if strings.Contains(p, "*") {
		return strings.ReplaceAll(p, "*", "%")
	}
	return "%" + p + "%"
}

// Compile turns s into a scope over the messages owned by ownerID. Every
// criterion is ANDed; the owner restriction is always applied.
func Compile(ownerID int64, s Search) (func(*gorm.DB) *gorm.DB, error) {
	var verrs ValidationErrors
	flags := []struct {
		field  string
		column string
		raw    string
	}{
		{"is_spam", "is_spam", s.IsSpam},
		{"is_read", "is_read", s.IsRead},
		{"is_deleted", "is_deleted", s.IsDeleted},
		{"read", "is_read", s.Read},
	}
	type cond struct {
		column string
		value  bool
	}
	var conds []cond
	spamGiven, deletedGiven := false, false
	for _, f := range flags {
		v, ok, err := ParseTruthy(f.raw)
		if err != nil {
			verrs.add(f.field, "must be true or false")
			continue
		}
		if ok {
			conds = append(conds, cond{f.column, v})
			spamGiven = spamGiven || f.column == "is_spam"
			deletedGiven = deletedGiven || f.column == "is_deleted"
		}
	}

	switch s.Folder {
	case "":
	case FolderReceived, FolderSent:
		if !deletedGiven {
			conds = append(conds, cond{"is_deleted", false})
		}
	case FolderUnread:
		conds = append(conds, cond{"is_read", false})
		if !deletedGiven {
			conds = append(conds, cond{"is_deleted", false})
		}
	case FolderSpam:
		conds = append(conds, cond{"is_spam", true})
		spamGiven = true
	case FolderDeleted:
		conds = append(conds, cond{"is_deleted", true})
	default:
		verrs.add("folder", "is not a known folder")
	}
	if !spamGiven {
		conds = append(conds, cond{"is_spam", false})
	}

	order := "created_at DESC, id DESC"
	switch s.Order {
	case "", "newest":
	case "oldest":
		order = "created_at ASC, id ASC"
	default:
		verrs.add("order", "must be newest or oldest")
	}
	if err := verrs.orNil(); err != nil {
		return nil, err
	}

	limit := s.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	return func(db *gorm.DB) *gorm.DB {
		q := db.Where("owner_id = ?", ownerID)
		switch s.Folder {
		case FolderReceived:
			q = q.Where("to_id = ?", ownerID)
		case FolderSent:
			q = q.Where("from_id = ?", ownerID)
		}
		if s.TitleMatches != "" {
			q = q.Where("LOWER(title) LIKE ? ESCAPE '!'", likePattern(s.TitleMatches))
		}
		if s.MessageMatches != "" {
			q = q.Where("LOWER(body) LIKE ? ESCAPE '!'", likePattern(s.MessageMatches))
		}
		if s.ToID != 0 {
			q = q.Where("to_id = ?", s.ToID)
		}
		if s.FromID != 0 {
			q = q.Where("from_id = ?", s.FromID)
		}
		if s.ToName != "" {
			q = q.Where("to_id IN (?)", usersNamed(db, s.ToName))
		}
		if s.FromName != "" {
			q = q.Where("from_id IN (?)", usersNamed(db, s.FromName))
		}
		for _, c := range conds {
			q = q.Where(c.column+" = ?", c.value)
		}
		return q.Order(order).Limit(limit)
	}, nil
}

func usersNamed(db *gorm.DB, name string) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true}).Model(&model.User{}).
		Select("id").
		Where("LOWER(name) = ?", strings.ToLower(model.NormalizeName(name)))
}

// Search returns the actor's copies matching s.
func (st *Store) Search(ctx context.Context, a Actor, s Search) ([]model.Message, error) {
	scope, err := Compile(a.ID, s)
	if err != nil {
		return nil, err
	}
	var msgs []model.Message
	if err := st.db.WithContext(ctx).Model(&model.Message{}).Scopes(scope).Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
