package mail

import (
	"regexp"
	"strings"
)

// wordEdge matches anything that cannot be part of a word, so filter words
// only hit whole words.
const wordEdge = `[^\p{L}\p{N}_]`

// FilterEngine evaluates a recipient's standing mail filter. A filter is a
// whitespace separated list of words; a draft matches when any of them
// occurs as a whole word, ignoring case, in its title, body or sender name.
type FilterEngine struct{}

// Matches reports whether the draft from senderName is caught by filter.
// An empty filter never matches.
func (FilterEngine) Matches(d Draft, senderName, filter string) bool {
	re := compileFilter(filter)
	if re == nil {
		return false
	}
	return re.MatchString(d.Title) || re.MatchString(d.Body) || re.MatchString(senderName)
}

func compileFilter(filter string) *regexp.Regexp {
	words := strings.Fields(filter)
	if len(words) == 0 {
		return nil
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)(?:^|` + wordEdge + `)(?:` + strings.Join(quoted, "|") + `)(?:` + wordEdge + `|$)`)
}

// NormalizeFilter collapses whitespace so stored filters compare equal
// regardless of how they were typed.
func NormalizeFilter(words string) string {
	return strings.Join(strings.Fields(words), " ")
}
