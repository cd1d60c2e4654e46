package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/viva-pipeline/clients"
	"github.com/maastricht-university/viva-pipeline/dialogue"
	"github.com/maastricht-university/viva-pipeline/scoring"
)

type fakeSTT struct {
	err error
}

// Transcribe treats the audio bytes as the spoken text, two seconds per unit.
func (f *fakeSTT) Transcribe(_ context.Context, audio []byte, _ string) (clients.Transcript, error) {
	if f.err != nil {
		return clients.Transcript{}, f.err
	}
	text := string(audio)
	return clients.Transcript{
		Text:     text,
		Segments: []clients.TransSeg{{Start: 0, End: 2, Text: text}},
	}, nil
}

type fakeGen struct {
	mu  sync.Mutex
	n   int
	err error
}

func (g *fakeGen) Generate(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.n++
	return fmt.Sprintf("Follow-up %d?", g.n), nil
}

type fakeTTS struct {
	err     error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeTTS) Synthesize(_ context.Context, text string) ([]byte, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("wav:" + text), nil
}

type fixture struct {
	o   *Orchestrator
	stt *fakeSTT
	gen *fakeGen
	tts *fakeTTS
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{stt: &fakeSTT{}, gen: &fakeGen{}, tts: &fakeTTS{}}
	engine := dialogue.New(f.gen, nil, dialogue.Options{Select: func(int) int { return 0 }})
	f.o = New(Deps{STT: f.stt, Dialogue: engine, TTS: f.tts}, opts)
	return f
}

func (f *fixture) start(t *testing.T) string {
	t.Helper()
	v, err := f.o.CreateSession("DSA", "medium")
	require.NoError(t, err)
	require.Equal(t, Active, v.State)
	return v.ID
}

func TestOpeningTurn(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.start(t)

	u, err := f.o.HandleAudioUnit(context.Background(), id, []byte("Hello professor"))
	require.NoError(t, err)
	require.False(t, u.Skipped)

	opening := dialogue.DefaultBank().Subjects["DSA"][0]
	assert.Equal(t, opening.Text, u.Turn.Reply)
	assert.Equal(t, [][]byte{[]byte("wav:" + opening.Text)}, u.Audio)

	v, err := f.o.GetSession(id)
	require.NoError(t, err)
	require.Len(t, v.Turns, 1)
	assert.Equal(t, "", v.Turns[0].Question)
	assert.Equal(t, "Hello professor", v.Turns[0].Response)
	assert.NotNil(t, v.Turns[0].Score, "per-turn scoring is the default")
	assert.Zero(t, f.gen.n, "opening question is not generated")
}

func TestTurnsAreAppendOnly(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.start(t)
	ctx := context.Background()

	var prev []Turn
	for i := 0; i < 4; i++ {
		_, err := f.o.HandleAudioUnit(ctx, id, []byte(fmt.Sprintf("answer number %d", i)))
		require.NoError(t, err)

		v, err := f.o.GetSession(id)
		require.NoError(t, err)
		require.Len(t, v.Turns, i+1)
		assert.Equal(t, prev, v.Turns[:i], "earlier turns unchanged")
		prev = v.Turns
	}

	opening := dialogue.DefaultBank().Subjects["DSA"][0]
	assert.Equal(t, opening.Text, prev[1].Question)
	assert.Equal(t, opening.Concepts, prev[1].ExpectedConcepts)
	for i := 1; i < len(prev); i++ {
		assert.Equal(t, prev[i-1].Reply, prev[i].Question)
		assert.Equal(t, i, prev[i].Index)
	}
}

func TestSilentUnitIsSkipped(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.start(t)

	u, err := f.o.HandleAudioUnit(context.Background(), id, []byte("   "))
	require.NoError(t, err)
	assert.True(t, u.Skipped)
	assert.Nil(t, u.Turn)

	v, _ := f.o.GetSession(id)
	assert.Empty(t, v.Turns)
}

func TestUpstreamFailureLeavesSessionUnchanged(t *testing.T) {
	tests := []struct {
		name string
		kind error
		fail func(f *fixture)
		heal func(f *fixture)
	}{
		{"transcription", ErrTranscription,
			func(f *fixture) { f.stt.err = errors.New("whisper down") },
			func(f *fixture) { f.stt.err = nil }},
		{"generation", ErrGeneration,
			func(f *fixture) { f.gen.err = errors.New("ollama down") },
			func(f *fixture) { f.gen.err = nil }},
		{"synthesis", ErrSynthesis,
			func(f *fixture) { f.tts.err = errors.New("xtts down") },
			func(f *fixture) { f.tts.err = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			id := f.start(t)
			ctx := context.Background()

			_, err := f.o.HandleAudioUnit(ctx, id, []byte("first answer"))
			require.NoError(t, err)
			before, _ := f.o.GetSession(id)

			tt.fail(f)
			_, err = f.o.HandleAudioUnit(ctx, id, []byte("second answer"))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpstream)
			assert.ErrorIs(t, err, tt.kind)
			var ue *UpstreamError
			assert.ErrorAs(t, err, &ue)

			after, _ := f.o.GetSession(id)
			assert.Equal(t, before, after)

			tt.heal(f)
			u, err := f.o.HandleAudioUnit(ctx, id, []byte("second answer"))
			require.NoError(t, err)
			assert.Equal(t, before.Turns[0].Reply, u.Turn.Question, "retry answers the same question")
		})
	}
}

func TestEndSession(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.start(t)
	ctx := context.Background()

	for _, a := range []string{"Hello", "First, the time complexity is O(n log n). However, it depends on the pivot."} {
		_, err := f.o.HandleAudioUnit(ctx, id, []byte(a))
		require.NoError(t, err)
	}

	r1, err := f.o.EndSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, r1.TurnCount)
	assert.Len(t, r1.TurnScores, 2)
	assert.GreaterOrEqual(t, r1.Score.Overall, 0.0)
	assert.LessOrEqual(t, r1.Score.Overall, 10.0)

	r2, err := f.o.EndSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	v, _ := f.o.GetSession(id)
	assert.Equal(t, Completed, v.State)
	require.NotNil(t, v.Report)
	assert.Equal(t, *r1, *v.Report)

	_, err = f.o.HandleAudioUnit(ctx, id, []byte("one more"))
	assert.ErrorIs(t, err, ErrInvalidState)
	after, _ := f.o.GetSession(id)
	assert.Equal(t, v.Turns, after.Turns)
}

func TestEndSessionWithoutTurns(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.start(t)

	r, err := f.o.EndSession(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, r.Score.Overall)
	assert.Equal(t, scoring.NoResponsesFeedback, r.Score.Feedback)
	assert.Empty(t, r.TurnScores)
}

func TestBatchScoring(t *testing.T) {
	f := newFixture(t, Options{ScoreMode: ScoreBatch})
	id := f.start(t)
	ctx := context.Background()

	for _, a := range []string{"hi", "a stack is last in first out"} {
		u, err := f.o.HandleAudioUnit(ctx, id, []byte(a))
		require.NoError(t, err)
		assert.Nil(t, u.Turn.Score)
	}

	r, err := f.o.EndSession(ctx, id)
	require.NoError(t, err)
	require.Len(t, r.TurnScores, 2)

	v, _ := f.o.GetSession(id)
	for _, turn := range v.Turns {
		assert.Nil(t, turn.Score, "batch scores live in the report")
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.o.GetSession("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.o.HandleAudioUnit(ctx, "nope", []byte("x"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.o.EndSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.o.Disconnect("nope"), ErrNotFound)
}

func TestDisconnectDuringUnit(t *testing.T) {
	f := newFixture(t, Options{})
	f.tts.entered = make(chan struct{})
	f.tts.release = make(chan struct{})
	id := f.start(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.o.HandleAudioUnit(ctx, id, []byte("hello"))
		done <- err
	}()

	<-f.tts.entered
	require.NoError(t, f.o.Disconnect(id))
	v, _ := f.o.GetSession(id)
	assert.Equal(t, Disconnected, v.State)

	close(f.tts.release)
	require.NoError(t, <-done)

	v, _ = f.o.GetSession(id)
	assert.Len(t, v.Turns, 1, "in-flight reply is recorded")

	f.tts.entered = nil
	_, err := f.o.HandleAudioUnit(ctx, id, []byte("again"))
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, f.o.Disconnect(id), "disconnect is idempotent")
	r, err := f.o.EndSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, r.TurnCount)
}

func TestConcurrentUnitsAreSerialized(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.start(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.o.HandleAudioUnit(ctx, id, []byte(fmt.Sprintf("answer %d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	v, _ := f.o.GetSession(id)
	require.Len(t, v.Turns, 8)
	for i, turn := range v.Turns {
		assert.Equal(t, i, turn.Index)
		if i > 0 {
			assert.Equal(t, v.Turns[i-1].Reply, turn.Question)
		}
	}
}

func TestStreamingSynthesis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in clients.SynthReq
		_ = json.NewDecoder(r.Body).Decode(&in)
		_, _ = w.Write([]byte(in.Text))
	}))
	defer srv.Close()

	gen := &fakeGen{}
	o := New(Deps{
		STT:      &fakeSTT{},
		Dialogue: dialogue.New(gen, nil, dialogue.Options{Select: func(int) int { return 0 }}),
		TTS:      clients.NewTTS(clients.NewHTTP(), srv.URL, "ref.wav", "en"),
	}, Options{Stream: true})

	v, err := o.CreateSession("DSA", "")
	require.NoError(t, err)
	assert.Equal(t, "medium", v.Difficulty)

	_, err = o.HandleAudioUnit(context.Background(), v.ID, []byte("hello"))
	require.NoError(t, err)
	u, err := o.HandleAudioUnit(context.Background(), v.ID, []byte("an answer"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("Follow-up 1?")}, u.Audio)
}

func TestReportExport(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, Options{Outputs: dir})
	id := f.start(t)
	ctx := context.Background()

	_, err := f.o.HandleAudioUnit(ctx, id, []byte("hello"))
	require.NoError(t, err)
	r, err := f.o.EndSession(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, r.ExportPath)

	b, err := os.ReadFile(r.ExportPath)
	require.NoError(t, err)
	var bundle PersistBundle
	require.NoError(t, json.Unmarshal(b, &bundle))
	assert.Equal(t, id, bundle.SessionID)
	assert.Len(t, bundle.Turns, 1)
	assert.Equal(t, r.Score, bundle.Report.Score)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestReap(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	f := newFixture(t, Options{TTL: time.Hour, CompletedRetention: 10 * time.Minute, Now: c.now})
	ctx := context.Background()

	idle := f.start(t)
	done := f.start(t)
	busy := f.start(t)

	_, err := f.o.EndSession(ctx, done)
	require.NoError(t, err)

	c.advance(11 * time.Minute)
	_, err = f.o.HandleAudioUnit(ctx, busy, []byte("still here"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.o.Reap(c.now()))
	_, err = f.o.GetSession(done)
	assert.ErrorIs(t, err, ErrNotFound, "completed retention elapsed")

	c.advance(50 * time.Minute)
	_, err = f.o.GetSession(busy)
	require.NoError(t, err)
	assert.Equal(t, 1, f.o.Reap(c.now()))
	_, err = f.o.GetSession(idle)
	assert.ErrorIs(t, err, ErrNotFound, "idle past ttl")
	assert.Equal(t, 1, f.o.Len())
}

func TestMaxSessionsKeepsActiveSessions(t *testing.T) {
	f := newFixture(t, Options{MaxSessions: 2})
	ctx := context.Background()
	a := f.start(t)
	_, err := f.o.HandleAudioUnit(ctx, a, []byte("Hello professor"))
	require.NoError(t, err)
	f.start(t)

	for range 2 {
		_, err = f.o.CreateSession("DSA", "medium")
		assert.ErrorIs(t, err, ErrCapacity)
	}
	assert.Equal(t, 2, f.o.Len())

	v, err := f.o.GetSession(a)
	require.NoError(t, err)
	assert.Len(t, v.Turns, 1)
	rep, err := f.o.EndSession(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TurnCount)

	// The completed session now makes room.
	f.start(t)
	_, err = f.o.GetSession(a)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMaxSessionsEvictionOrder(t *testing.T) {
	f := newFixture(t, Options{MaxSessions: 3})
	ctx := context.Background()
	gone := f.start(t)
	done := f.start(t)
	live := f.start(t)
	require.NoError(t, f.o.Disconnect(gone))
	_, err := f.o.EndSession(ctx, done)
	require.NoError(t, err)

	f.start(t)
	_, err = f.o.GetSession(done)
	assert.ErrorIs(t, err, ErrNotFound, "completed goes before disconnected")
	_, err = f.o.GetSession(gone)
	require.NoError(t, err)

	f.start(t)
	_, err = f.o.GetSession(gone)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.o.GetSession(live)
	assert.NoError(t, err)
	assert.Equal(t, 3, f.o.Len())
}

func TestRunStopsWithContext(t *testing.T) {
	f := newFixture(t, Options{ReapInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.o.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDelivery(t *testing.T) {
	tests := []struct {
		name string
		segs []clients.TransSeg
		want *scoring.Delivery
	}{
		{"none", nil, nil},
		{"no timings", []clients.TransSeg{{Text: "words here"}}, nil},
		{
			"gap between segments",
			[]clients.TransSeg{{Start: 0, End: 2, Text: "a b c d"}, {Start: 3, End: 5, Text: "e f g h"}},
			&scoring.Delivery{SpeakingRate: 120, PauseRatio: 0.2},
		},
		{
			"overlap counts once",
			[]clients.TransSeg{{Start: 0, End: 4, Text: "a b c d"}, {Start: 2, End: 6, Text: "e f g h"}},
			&scoring.Delivery{SpeakingRate: 80, PauseRatio: 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, delivery(tt.segs))
		})
	}
}
