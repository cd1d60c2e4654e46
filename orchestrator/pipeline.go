// Package orchestrator runs interview sessions: it owns the session
// registry and drives each audio unit through transcription, dialogue,
// synthesis and scoring.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/viva-pipeline/clients"
	"github.com/maastricht-university/viva-pipeline/dialogue"
	"github.com/maastricht-university/viva-pipeline/logging"
	"github.com/maastricht-university/viva-pipeline/memory"
	"github.com/maastricht-university/viva-pipeline/scoring"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (clients.Transcript, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// StreamSynthesizer is used instead of Synthesize when Options.Stream is set.
type StreamSynthesizer interface {
	SynthesizeStream(ctx context.Context, text string) (*clients.AudioStream, error)
}

type Responder interface {
	Respond(ctx context.Context, req dialogue.Request) (dialogue.Reply, error)
}

type ScoreMode string

const (
	ScorePerTurn ScoreMode = "per_turn"
	ScoreBatch   ScoreMode = "batch"
)

// Deps are the collaborators, already initialized.
type Deps struct {
	STT      Transcriber
	Dialogue Responder
	TTS      Synthesizer
	Scorer   scoring.Scorer
	Log      logrus.FieldLogger
}

type Options struct {
	Language           string
	MemoryWindow       int
	Stream             bool
	ScoreMode          ScoreMode
	TTL                time.Duration
	CompletedRetention time.Duration
	MaxSessions        int
	ReapInterval       time.Duration
	// Outputs, when set, receives a JSON bundle per completed session.
	Outputs string
	Now     func() time.Time
}

type Orchestrator struct {
	stt      Transcriber
	dialogue Responder
	tts      Synthesizer
	scorer   scoring.Scorer
	log      logrus.FieldLogger

	opts     Options
	sessions *registry
}

func New(d Deps, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ScoreMode == "" {
		opts.ScoreMode = ScorePerTurn
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Minute
	}
	if d.Scorer == nil {
		d.Scorer = scoring.NewHeuristic()
	}
	log := d.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Orchestrator{
		stt:      d.STT,
		dialogue: d.Dialogue,
		tts:      d.TTS,
		scorer:   d.Scorer,
		log:      logging.Component(log, "orchestrator"),
		opts:     opts,
		sessions: newRegistry(opts.TTL, opts.CompletedRetention, opts.MaxSessions),
	}
}

// CreateSession registers a new Active session.
func (o *Orchestrator) CreateSession(subject, difficulty string) (SessionView, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return SessionView{}, fmt.Errorf("session id: %w", err)
	}
	if subject = strings.TrimSpace(subject); subject == "" {
		subject = "DSA"
	}
	if difficulty = strings.TrimSpace(difficulty); difficulty == "" {
		difficulty = "medium"
	}
	now := o.opts.Now()
	s := &Session{
		ID:         id.String(),
		Subject:    subject,
		Difficulty: difficulty,
		CreatedAt:  now,
		state:      Pending,
		memory:     memory.New(o.opts.MemoryWindow),
	}
	s.state = Active
	if err := o.sessions.add(s, now); err != nil {
		o.log.WithError(err).Warn("session refused")
		return SessionView{}, err
	}

	o.log.WithFields(logrus.Fields{"session_id": s.ID, "subject": subject, "difficulty": difficulty}).Info("session started")
	return s.view(), nil
}

func (o *Orchestrator) GetSession(id string) (SessionView, error) {
	s, err := o.lookup(id)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(), nil
}

// HandleAudioUnit turns one unit of candidate speech into a committed turn
// and the interviewer's synthesized reply. On error the session is left
// exactly as it was, so the same audio may be retried.
func (o *Orchestrator) HandleAudioUnit(ctx context.Context, id string, audio []byte) (*Unit, error) {
	s, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	s.unitMu.Lock()
	defer s.unitMu.Unlock()

	s.mu.RLock()
	state := s.state
	first := len(s.turns) == 0
	question := s.lastReply
	concepts := s.lastConcepts
	history := s.memory.History()
	s.mu.RUnlock()

	if state != Active {
		return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, id, state)
	}
	log := o.log.WithField("session_id", id)

	tr, err := o.stt.Transcribe(ctx, audio, o.opts.Language)
	if err != nil {
		return nil, &UpstreamError{Kind: ErrTranscription, Err: err}
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		log.Debug("silent unit skipped")
		return &Unit{Skipped: true}, nil
	}

	reply, err := o.dialogue.Respond(ctx, dialogue.Request{
		Subject:    s.Subject,
		Difficulty: s.Difficulty,
		First:      first,
		History:    history,
		Question:   question,
		Utterance:  text,
	})
	if err != nil {
		return nil, &UpstreamError{Kind: ErrGeneration, Err: err}
	}

	speech, err := o.synthesize(ctx, reply.Text)
	if err != nil {
		return nil, &UpstreamError{Kind: ErrSynthesis, Err: err}
	}

	turn := Turn{
		Question:             question,
		Response:             text,
		Reply:                reply.Text,
		RetrievedContext:     reply.Context,
		ExpectedConcepts:     concepts,
		Delivery:             delivery(tr.Segments),
		TranscriptConfidence: tr.Confidence,
		CreatedAt:            o.opts.Now(),
	}
	if o.opts.ScoreMode == ScorePerTurn {
		sc := o.scorer.ScoreTurn(ctx, turnInput(turn))
		turn.Score = &sc
	}

	s.mu.Lock()
	turn.Index = len(s.turns)
	s.turns = append(s.turns, turn)
	s.memory.Append(memory.Exchange{Question: question, Response: text})
	s.lastReply = reply.Text
	s.lastConcepts = reply.Concepts
	s.mu.Unlock()

	log.WithFields(logrus.Fields{"turn": turn.Index, "context": len(reply.Context)}).Info("turn committed")
	return &Unit{Transcript: text, Turn: &turn, Audio: speech}, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) ([][]byte, error) {
	if st, ok := o.tts.(StreamSynthesizer); ok && o.opts.Stream {
		stream, err := st.SynthesizeStream(ctx, text)
		if err != nil {
			return nil, err
		}
		return stream.Collect()
	}
	audio, err := o.tts.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	return [][]byte{audio}, nil
}

// EndSession completes the session and returns its report. Calling it again
// returns the same report.
func (o *Orchestrator) EndSession(ctx context.Context, id string) (*Report, error) {
	s, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	s.unitMu.Lock()
	defer s.unitMu.Unlock()

	s.mu.RLock()
	if s.report != nil {
		r := *s.report
		s.mu.RUnlock()
		return &r, nil
	}
	turns := append([]Turn(nil), s.turns...)
	s.mu.RUnlock()

	inputs := make([]scoring.TurnInput, len(turns))
	perTurn := make([]scoring.EvaluationScore, len(turns))
	for i, t := range turns {
		in := turnInput(t)
		if in.Score == nil {
			sc := o.scorer.ScoreTurn(ctx, in)
			in.Score = &sc
		}
		inputs[i] = in
		perTurn[i] = *in.Score
	}

	now := o.opts.Now()
	rep := Report{
		SessionID:   s.ID,
		Subject:     s.Subject,
		Difficulty:  s.Difficulty,
		TurnCount:   len(turns),
		Score:       o.scorer.ScoreSession(ctx, inputs),
		TurnScores:  perTurn,
		CompletedAt: now,
	}
	log := o.log.WithField("session_id", id)
	if o.opts.Outputs != "" {
		path, err := persist(o.opts.Outputs, s, turns, rep, now)
		if err != nil {
			log.WithError(err).Warn("report export failed")
		} else {
			rep.ExportPath = path
		}
	}

	s.mu.Lock()
	s.state = Completed
	s.report = &rep
	s.completedAt = now
	s.memory.Clear()
	s.mu.Unlock()

	log.WithFields(logrus.Fields{"turns": rep.TurnCount, "overall": rep.Score.Overall}).Info("session completed")
	r := rep
	return &r, nil
}

// Disconnect marks an Active session Disconnected. It does not wait for an
// in-flight unit; that unit's turn is still recorded.
func (o *Orchestrator) Disconnect(id string) error {
	s, err := o.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	changed := s.state == Active
	if changed {
		s.state = Disconnected
	}
	s.mu.Unlock()
	if changed {
		o.log.WithField("session_id", id).Info("session disconnected")
	}
	return nil
}

// Reap evicts expired sessions and returns how many were removed.
func (o *Orchestrator) Reap(now time.Time) int {
	n := o.sessions.reap(now)
	if n > 0 {
		o.log.WithFields(logrus.Fields{"evicted": n, "live": o.sessions.len()}).Info("sessions reaped")
	}
	return n
}

// Run reaps on every ReapInterval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	t := time.NewTicker(o.opts.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.Reap(o.opts.Now())
		}
	}
}

func (o *Orchestrator) Len() int { return o.sessions.len() }

func (o *Orchestrator) lookup(id string) (*Session, error) {
	s, ok := o.sessions.get(id, o.opts.Now())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}
