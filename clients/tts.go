package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNoVoiceReference means no reference recording is configured for cloning.
var ErrNoVoiceReference = errors.New("tts: voice reference not set")

type SynthReq struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language,omitempty"`
}

// TTS calls a voice-cloning synthesis service (POST /synthesize, JSON in,
// audio bytes out).
type TTS struct {
	http     *HTTP
	url      string
	voice    string
	language string
}

func NewTTS(h *HTTP, url, voiceReference, language string) *TTS {
	return &TTS{http: h, url: strings.TrimRight(url, "/"), voice: voiceReference, language: language}
}

func (t *TTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if t.voice == "" {
		return nil, ErrNoVoiceReference
	}
	return t.http.Synthesize(ctx, t.url, SynthReq{Text: text, SpeakerWav: t.voice, Language: t.language})
}

// SynthesizeStream returns a lazy stream yielding one audio chunk per
// sentence of text. Each chunk is synthesized when Next is called.
func (t *TTS) SynthesizeStream(ctx context.Context, text string) (*AudioStream, error) {
	if t.voice == "" {
		return nil, ErrNoVoiceReference
	}
	return &AudioStream{
		ctx:       ctx,
		sentences: Sentences(text),
		synth:     t.Synthesize,
	}, nil
}

func (h *HTTP) Synthesize(ctx context.Context, url string, in SynthReq) ([]byte, error) {
	b, _ := json.Marshal(in)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/synthesize", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("tts", resp)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts read: %w", err)
	}
	return audio, nil
}

// AudioStream is a finite, non-restartable sequence of audio chunks.
type AudioStream struct {
	ctx       context.Context
	sentences []string
	synth     func(context.Context, string) ([]byte, error)
	pos       int
	err       error
}

// Next synthesizes the next sentence. It returns false once the stream is
// exhausted or failed; check Err afterwards.
func (s *AudioStream) Next() ([]byte, bool) {
	if s.err != nil || s.pos >= len(s.sentences) {
		return nil, false
	}
	audio, err := s.synth(s.ctx, s.sentences[s.pos])
	s.pos++
	if err != nil {
		s.err = err
		return nil, false
	}
	return audio, true
}

func (s *AudioStream) Err() error { return s.err }

// Collect drains the stream.
func (s *AudioStream) Collect() ([][]byte, error) {
	var out [][]byte
	for {
		chunk, ok := s.Next()
		if !ok {
			return out, s.Err()
		}
		out = append(out, chunk)
	}
}

// Sentences splits text after runs of '.', '?' and '!' and drops blank
// pieces.
func Sentences(text string) []string {
	var (
		out   []string
		start int
	)
	for i, r := range text {
		if isTerminator(r) && (i+1 == len(text) || !isTerminator(rune(text[i+1]))) {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminator(r rune) bool { return r == '.' || r == '?' || r == '!' }
