package scoring

import (
	"context"
	"strings"
	"unicode"
)

var (
	discourseMarkers = []string{"first", "second", "finally", "therefore"}
	depthIndicators  = []string{
		"time complexity", "space complexity", "o(n)", "o(log n)",
		"edge case", "trade-off", "optimize", "however", "depends on",
	}
)

// HeuristicScorer is the rule-based scorer. It is a pure function of its
// input and ignores the context.
type HeuristicScorer struct{}

func NewHeuristic() HeuristicScorer { return HeuristicScorer{} }

func (HeuristicScorer) ScoreTurn(_ context.Context, in TurnInput) EvaluationScore {
	d := rules(in).clamp()
	return d.score(feedback(d))
}

func (h HeuristicScorer) ScoreSession(ctx context.Context, turns []TurnInput) EvaluationScore {
	return aggregate(ctx, turns, h.ScoreTurn)
}

func rules(in TurnInput) dims {
	d := dims{neutral, neutral, neutral, neutral, neutral}

	response := strings.TrimSpace(in.Response)
	lower := strings.ToLower(response)
	words := strings.Fields(response)

	if concepts := nonBlank(in.ExpectedConcepts); len(concepts) > 0 {
		hits := 0
		for _, c := range concepts {
			if strings.Contains(lower, strings.ToLower(c)) {
				hits++
			}
		}
		d.technical = neutral + float64(hits)/float64(len(concepts))*5
	}

	if len(words) > 20 {
		d.clarity++
	}
	if len(words) > 50 {
		d.clarity++
	}
	if containsWord(words, discourseMarkers) {
		d.clarity++
	}

	for _, ind := range depthIndicators {
		if strings.Contains(lower, ind) {
			d.depth++
		}
	}

	if response != "" {
		first := []rune(response)[0]
		last := response[len(response)-1]
		if unicode.IsUpper(first) && strings.ContainsRune(".!?", rune(last)) {
			d.communication++
		}
		if variety(words) > 0.7 {
			d.communication++
		}
	}

	if in.Delivery != nil {
		d.confidence = confidence(*in.Delivery)
	}
	return d
}

// confidence rates delivery: roughly 130-170 wpm and few pauses read as assured.
func confidence(f Delivery) float64 {
	score := neutral
	switch rate := f.SpeakingRate; {
	case rate >= 130 && rate <= 170:
		score += 2
	case rate >= 100 && rate < 130, rate > 170 && rate <= 200:
		score++
	}
	switch ratio := f.PauseRatio; {
	case ratio < 0.2:
		score += 2
	case ratio < 0.4:
		score++
	default:
		score--
	}
	return clamp(score)
}

func feedback(d dims) string {
	var parts []string
	switch {
	case d.technical >= 7:
		parts = append(parts, "Good technical understanding demonstrated.")
	case d.technical < 5:
		parts = append(parts, "Review the core concepts for better accuracy.")
	}
	switch {
	case d.clarity >= 7:
		parts = append(parts, "Clear and well-structured explanation.")
	case d.clarity < 5:
		parts = append(parts, "Try to organize your answer more clearly.")
	}
	switch {
	case d.depth >= 7:
		parts = append(parts, "Excellent depth with complexity analysis.")
	case d.depth < 5:
		parts = append(parts, "Consider discussing time/space complexity and edge cases.")
	}
	if d.confidence < 5 {
		parts = append(parts, "Practice speaking at a steady pace.")
	}
	return strings.Join(parts, " ")
}

func containsWord(words, markers []string) bool {
	for _, w := range words {
		w = strings.ToLower(strings.TrimFunc(w, unicode.IsPunct))
		for _, m := range markers {
			if w == m {
				return true
			}
		}
	}
	return false
}

// variety is the type/token ratio of the answer.
func variety(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	return float64(len(seen)) / float64(len(words))
}

func nonBlank(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
