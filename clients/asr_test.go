package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribeJoinsSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		body, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(body))
		assert.Equal(t, "en", r.FormValue("language"))

		_ = json.NewEncoder(w).Encode(ASRResp{
			Language: "en",
			Segments: []TransSeg{
				{Start: 0, End: 1.5, Text: " A stack is ", AvgLogprob: -0.2},
				{Start: 1.5, End: 3, Text: "last in first out.", AvgLogprob: -0.4},
			},
		})
	}))
	defer srv.Close()

	stt := NewSTT(NewHTTP(), srv.URL+"/")
	tr, err := stt.Transcribe(context.Background(), []byte("RIFF"), "en")
	require.NoError(t, err)
	assert.Equal(t, "A stack is last in first out.", tr.Text)
	assert.Equal(t, "en", tr.Language)
	assert.InDelta(t, -0.3, tr.Confidence, 1e-9)
	assert.Len(t, tr.Segments, 2)
}

func TestTranscribeEmptyAudioSkipsRequest(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	tr, err := NewSTT(NewHTTP(), srv.URL).Transcribe(context.Background(), nil, "en")
	require.NoError(t, err)
	assert.Empty(t, tr.Text)
	assert.Zero(t, calls)
}

func TestTranscribeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSTT(NewHTTP(), srv.URL).Transcribe(context.Background(), []byte{1}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}
