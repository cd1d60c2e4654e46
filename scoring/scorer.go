// Package scoring rates interview answers along five dimensions.
package scoring

import (
	"context"
	"math"
)

// EvaluationScore is an immutable rating. Every dimension is in [0,10].
type EvaluationScore struct {
	TechnicalAccuracy float64 `json:"technical_accuracy"`
	Clarity           float64 `json:"clarity"`
	Depth             float64 `json:"depth"`
	Confidence        float64 `json:"confidence"`
	Communication     float64 `json:"communication"`
	Overall           float64 `json:"overall"`
	Feedback          string  `json:"feedback"`
}

// Delivery holds vocal features measured from the candidate's audio.
type Delivery struct {
	SpeakingRate float64 `json:"speaking_rate"` // words per minute of voiced time
	PauseRatio   float64 `json:"pause_ratio"`   // silent gaps over the utterance span
}

// TurnInput is everything a scorer may look at for one exchange.
type TurnInput struct {
	Question         string
	Response         string
	ExpectedConcepts []string
	Delivery         *Delivery
	// Score, when set, is an earlier per-turn rating that ScoreSession reuses.
	Score *EvaluationScore
}

// Scorer rates single turns and whole sessions. Implementations never fail:
// missing inputs yield neutral scores.
type Scorer interface {
	ScoreTurn(ctx context.Context, in TurnInput) EvaluationScore
	ScoreSession(ctx context.Context, turns []TurnInput) EvaluationScore
}

const (
	neutral  = 5.0
	maxScore = 10.0
)

// NoResponsesFeedback is the feedback on a session without turns.
const NoResponsesFeedback = "No responses to evaluate"

// aggregate averages per-turn scores dimension by dimension. Turns that carry
// a Score reuse it; the rest go through rate.
func aggregate(ctx context.Context, turns []TurnInput, rate func(context.Context, TurnInput) EvaluationScore) EvaluationScore {
	if len(turns) == 0 {
		return EvaluationScore{Feedback: NoResponsesFeedback}
	}

	var sum dims
	for _, t := range turns {
		if t.Score != nil {
			sum.add(fromScore(*t.Score))
			continue
		}
		sum.add(fromScore(rate(ctx, t)))
	}
	avg := sum.scale(1 / float64(len(turns)))
	out := avg.score(feedback(avg))
	// Only the reported dimensions are rounded; overall and feedback use the
	// exact means.
	out.TechnicalAccuracy = round1(out.TechnicalAccuracy)
	out.Clarity = round1(out.Clarity)
	out.Depth = round1(out.Depth)
	out.Confidence = round1(out.Confidence)
	out.Communication = round1(out.Communication)
	return out
}

type dims struct {
	technical, clarity, depth, confidence, communication float64
}

func fromScore(s EvaluationScore) dims {
	return dims{s.TechnicalAccuracy, s.Clarity, s.Depth, s.Confidence, s.Communication}
}

func (d *dims) add(o dims) {
	d.technical += o.technical
	d.clarity += o.clarity
	d.depth += o.depth
	d.confidence += o.confidence
	d.communication += o.communication
}

func (d dims) scale(f float64) dims {
	return dims{d.technical * f, d.clarity * f, d.depth * f, d.confidence * f, d.communication * f}
}

func (d dims) clamp() dims {
	return dims{clamp(d.technical), clamp(d.clarity), clamp(d.depth), clamp(d.confidence), clamp(d.communication)}
}

func (d dims) mean() float64 {
	return (d.technical + d.clarity + d.depth + d.confidence + d.communication) / 5
}

func (d dims) score(fb string) EvaluationScore {
	return EvaluationScore{
		TechnicalAccuracy: d.technical,
		Clarity:           d.clarity,
		Depth:             d.depth,
		Confidence:        d.confidence,
		Communication:     d.communication,
		Overall:           round1(d.mean()),
		Feedback:          fb,
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return neutral
	}
	return math.Min(maxScore, math.Max(0, v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
