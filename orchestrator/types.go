package orchestrator

import (
	"sync"
	"time"

	"github.com/maastricht-university/viva-pipeline/memory"
	"github.com/maastricht-university/viva-pipeline/scoring"
)

type State string

const (
	Pending      State = "pending"
	Active       State = "active"
	Disconnected State = "disconnected"
	Completed    State = "completed"
)

// Turn is one committed exchange. Turns are never modified once appended.
type Turn struct {
	Index    int    `json:"index"`
	Question string `json:"question"` // "" on the first turn
	Response string `json:"response"`
	Reply    string `json:"reply"`
	// RetrievedContext is ordered by descending relevance.
	RetrievedContext     []string                 `json:"retrieved_context"`
	ExpectedConcepts     []string                 `json:"expected_concepts,omitempty"`
	Delivery             *scoring.Delivery        `json:"delivery,omitempty"`
	TranscriptConfidence float64                  `json:"transcript_confidence"`
	Score                *scoring.EvaluationScore `json:"score,omitempty"`
	CreatedAt            time.Time                `json:"created_at"`
}

type Report struct {
	SessionID   string                    `json:"session_id"`
	Subject     string                    `json:"subject"`
	Difficulty  string                    `json:"difficulty"`
	TurnCount   int                       `json:"turn_count"`
	Score       scoring.EvaluationScore   `json:"score"`
	TurnScores  []scoring.EvaluationScore `json:"turn_scores"`
	CompletedAt time.Time                 `json:"completed_at"`
	ExportPath  string                    `json:"export_path,omitempty"`
}

// SessionView is a read-only snapshot of a session.
type SessionView struct {
	ID         string    `json:"session_id"`
	Subject    string    `json:"subject"`
	Difficulty string    `json:"difficulty"`
	State      State     `json:"state"`
	Turns      []Turn    `json:"turns"`
	Report     *Report   `json:"report,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Unit is the outcome of one audio unit.
type Unit struct {
	// Skipped is set when the audio held no speech; nothing was recorded.
	Skipped    bool
	Transcript string
	Turn       *Turn
	// Audio is the synthesized reply: one chunk, or one per sentence when streaming.
	Audio [][]byte
}

type Session struct {
	ID         string
	Subject    string
	Difficulty string
	CreatedAt  time.Time

	// unitMu serializes audio units and EndSession.
	unitMu sync.Mutex

	mu           sync.RWMutex
	state        State
	turns        []Turn
	report       *Report
	memory       *memory.Window
	lastReply    string
	lastConcepts []string
	completedAt  time.Time
}

func (s *Session) view() SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := SessionView{
		ID:         s.ID,
		Subject:    s.Subject,
		Difficulty: s.Difficulty,
		State:      s.state,
		Turns:      append([]Turn(nil), s.turns...),
		CreatedAt:  s.CreatedAt,
	}
	if s.report != nil {
		r := *s.report
		v.Report = &r
	}
	return v
}

func (s *Session) status() (State, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.completedAt
}
