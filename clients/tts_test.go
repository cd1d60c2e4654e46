package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ttsServer(t *testing.T, got *[]SynthReq, failOn string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/synthesize", r.URL.Path)
		var in SynthReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		*got = append(*got, in)
		if failOn != "" && in.Text == failOn {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("wav:" + in.Text))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSynthesize(t *testing.T) {
	var got []SynthReq
	srv := ttsServer(t, &got, "")

	audio, err := NewTTS(NewHTTP(), srv.URL, "/voices/prof.wav", "en").Synthesize(context.Background(), "Hello there.")
	require.NoError(t, err)
	assert.Equal(t, "wav:Hello there.", string(audio))
	require.Len(t, got, 1)
	assert.Equal(t, SynthReq{Text: "Hello there.", SpeakerWav: "/voices/prof.wav", Language: "en"}, got[0])
}

func TestSynthesizeNeedsVoiceReference(t *testing.T) {
	tts := NewTTS(NewHTTP(), "http://unused", "", "en")
	_, err := tts.Synthesize(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoVoiceReference)
	_, err = tts.SynthesizeStream(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoVoiceReference)
}

func TestSynthesizeStreamIsLazy(t *testing.T) {
	var got []SynthReq
	srv := ttsServer(t, &got, "")

	s, err := NewTTS(NewHTTP(), srv.URL, "v.wav", "").SynthesizeStream(context.Background(), "Good. Why is that? Explain!")
	require.NoError(t, err)
	assert.Empty(t, got, "nothing synthesized before Next")

	first, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "wav:Good.", string(first))
	assert.Len(t, got, 1)

	rest, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("wav:Why is that?"), []byte("wav:Explain!")}, rest)

	_, ok = s.Next()
	assert.False(t, ok, "stream is not restartable")
}

func TestSynthesizeStreamStopsOnError(t *testing.T) {
	var got []SynthReq
	srv := ttsServer(t, &got, "Two.")

	s, err := NewTTS(NewHTTP(), srv.URL, "v.wav", "").SynthesizeStream(context.Background(), "One. Two. Three.")
	require.NoError(t, err)
	chunks, err := s.Collect()
	require.Error(t, err)
	assert.Len(t, chunks, 1)
	assert.Len(t, got, 2, "no request after the failure")
}

func TestSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"no terminator", []string{"no terminator"}},
		{"One. Two?  Three!", []string{"One.", "Two?", "Three!"}},
		{"Wait... really?", []string{"Wait...", "really?"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sentences(tt.in), tt.in)
	}
}
