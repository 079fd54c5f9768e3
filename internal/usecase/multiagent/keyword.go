package multiagent

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"teacher-agent/internal/domain"
)

// KeywordStrategy scores the utterance against each descriptor's keywords.
// Multi-word keywords weigh as many points as they have words; single words
// also match as a prefix of a longer token ("worksheet" matches
// "worksheets"). Confidence is top / (top + runner-up).
type KeywordStrategy struct{}

// NewKeywordStrategy creates a keyword strategy.
func NewKeywordStrategy() *KeywordStrategy { return &KeywordStrategy{} }

func (KeywordStrategy) Name() string { return "keyword" }

type keywordScore struct {
	name    domain.CapabilityName
	score   int
	matched []string
}

func (KeywordStrategy) Decide(_ context.Context, in domain.RouteInput) (domain.RoutingDecision, error) {
	tokens := tokenize(in.Utterance)
	padded := " " + strings.Join(tokens, " ") + " "

	scores := make([]keywordScore, 0, len(in.Capabilities))
	for _, d := range in.Capabilities {
		s := keywordScore{name: d.Name}
		for _, kw := range d.Keywords {
			kwTokens := tokenize(kw)
			switch {
			case len(kwTokens) == 0:
				continue
			case len(kwTokens) > 1:
				if strings.Contains(padded, " "+strings.Join(kwTokens, " ")+" ") {
					s.score += len(kwTokens)
					s.matched = append(s.matched, kw)
				}
			case matchesToken(tokens, kwTokens[0]):
				s.score++
				s.matched = append(s.matched, kw)
			}
		}
		scores = append(scores, s)
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	d := domain.RoutingDecision{Strategy: "keyword"}
	if len(scores) == 0 || scores[0].score == 0 {
		d.InferredIntent = "no keyword matched"
		return d, nil
	}
	top := scores[0]
	runnerUp := 0
	if len(scores) > 1 {
		runnerUp = scores[1].score
	}
	d.SelectedCapability = top.name
	d.Confidence = float64(top.score) / float64(top.score+runnerUp)
	d.InferredIntent = "matched " + strings.Join(top.matched, ", ")
	return d, nil
}

func matchesToken(tokens []string, kw string) bool {
	for _, t := range tokens {
		if t == kw || (len(kw) >= 4 && strings.HasPrefix(t, kw)) {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
