package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/viva-pipeline/logging"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const ratingPrompt = `You are grading one answer from a technical viva.
Rate the answer on each dimension from 0 to 10 and reply with JSON only, e.g.
{"technical_accuracy": 6, "clarity": 7, "depth": 5, "confidence": 6, "communication": 7, "feedback": "..."}

Question: %s
Expected concepts: %s
Answer: %s`

// ModelScorer asks a language model for the rating. Upstream errors and
// unparsable replies fall back to the heuristic scorer so scoring stays total.
type ModelScorer struct {
	gen Generator
	log logrus.FieldLogger
}

func NewModel(gen Generator, log logrus.FieldLogger) *ModelScorer {
	if log == nil {
		log = logging.Discard()
	}
	return &ModelScorer{gen: gen, log: log}
}

type modelRating struct {
	TechnicalAccuracy *float64 `json:"technical_accuracy"`
	Clarity           *float64 `json:"clarity"`
	Depth             *float64 `json:"depth"`
	Confidence        *float64 `json:"confidence"`
	Communication     *float64 `json:"communication"`
	Feedback          string   `json:"feedback"`
}

func (m *ModelScorer) ScoreTurn(ctx context.Context, in TurnInput) EvaluationScore {
	base := rules(in).clamp()
	if m.gen == nil || strings.TrimSpace(in.Response) == "" {
		return base.score(feedback(base))
	}

	concepts := strings.Join(nonBlank(in.ExpectedConcepts), ", ")
	if concepts == "" {
		concepts = "(none)"
	}
	out, err := m.gen.Generate(ctx, fmt.Sprintf(ratingPrompt, in.Question, concepts, in.Response))
	if err != nil {
		m.log.WithError(err).Warn("model scorer: generation failed, using heuristic")
		return base.score(feedback(base))
	}
	r, err := parseRating(out)
	if err != nil {
		m.log.WithError(err).Warn("model scorer: unparsable rating, using heuristic")
		return base.score(feedback(base))
	}

	d := dims{
		pick(r.TechnicalAccuracy, base.technical),
		pick(r.Clarity, base.clarity),
		pick(r.Depth, base.depth),
		pick(r.Confidence, base.confidence),
		pick(r.Communication, base.communication),
	}.clamp()
	// Measured delivery beats the model's guess at confidence.
	if in.Delivery != nil {
		d.confidence = base.confidence
	}
	fb := strings.TrimSpace(r.Feedback)
	if fb == "" {
		fb = feedback(d)
	}
	return d.score(fb)
}

func (m *ModelScorer) ScoreSession(ctx context.Context, turns []TurnInput) EvaluationScore {
	return aggregate(ctx, turns, m.ScoreTurn)
}

// parseRating extracts the first JSON object from a model reply.
func parseRating(s string) (modelRating, error) {
	var r modelRating
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return r, fmt.Errorf("no json object in reply")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &r); err != nil {
		return r, fmt.Errorf("decode rating: %w", err)
	}
	return r, nil
}

func pick(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
