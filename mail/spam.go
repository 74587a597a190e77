package mail

import (
	"context"
	"strings"

	"github.com/kasuganosora/dmail/model"
)

// SpamClassifier decides whether a draft is spam. The store only consumes
// the verdict; the heuristic is up to the implementation.
type SpamClassifier interface {
	Classify(ctx context.Context, d Draft, sender *model.User) bool
}

// NeverSpam classifies nothing as spam.
type NeverSpam struct{}

func (NeverSpam) Classify(context.Context, Draft, *model.User) bool { return false }

// KeywordClassifier sums the weights of the keywords present in a draft and
// reports spam once the score reaches Threshold.
type KeywordClassifier struct {
	keywords  map[string]int
	threshold int
}

// NewKeywordClassifier returns a classifier over keyword weights. With no
// keywords it never reports spam.
func NewKeywordClassifier(keywords map[string]int, threshold int) *KeywordClassifier {
	kw := make(map[string]int, len(keywords))
	for k, v := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw[k] = v
		}
	}
	if threshold <= 0 {
		threshold = 1
	}
	return &KeywordClassifier{keywords: kw, threshold: threshold}
}

// Score returns the summed weight of the keywords found in the draft.
func (k *KeywordClassifier) Score(d Draft) int {
	text := strings.ToLower(d.Title + " " + d.Body)
	score := 0
	for kw, weight := range k.keywords {
		if strings.Contains(text, kw) {
			score += weight
		}
	}
	return score
}

func (k *KeywordClassifier) Classify(_ context.Context, d Draft, _ *model.User) bool {
	if len(k.keywords) == 0 {
		return false
	}
	return k.Score(d) >= k.threshold
}
