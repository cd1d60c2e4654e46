package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
)

type TransSeg struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

type ASRResp struct {
	Segments []TransSeg `json:"segments"`
	Language string     `json:"language"`
}

// Transcript is the joined result of one transcription.
type Transcript struct {
	Text       string
	Language   string
	Confidence float64 // mean segment log-probability
	Segments   []TransSeg
}

// STT calls a whisper transcription service (POST /transcribe, multipart).
type STT struct {
	http *HTTP
	url  string
}

func NewSTT(h *HTTP, url string) *STT {
	return &STT{http: h, url: strings.TrimRight(url, "/")}
}

// Transcribe sends one audio unit. Empty audio yields an empty transcript
// without a request.
func (s *STT) Transcribe(ctx context.Context, audio []byte, language string) (Transcript, error) {
	if len(audio) == 0 {
		return Transcript{Language: language}, nil
	}
	asr, err := s.http.ASR(ctx, s.url, audio, language)
	if err != nil {
		return Transcript{}, err
	}

	var (
		parts []string
		conf  float64
	)
	for _, seg := range asr.Segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
		conf += seg.AvgLogprob
	}
	if n := len(asr.Segments); n > 0 {
		conf /= float64(n)
	}
	return Transcript{
		Text:       strings.Join(parts, " "),
		Language:   asr.Language,
		Confidence: conf,
		Segments:   asr.Segments,
	}, nil
}

func (h *HTTP) ASR(ctx context.Context, url string, audio []byte, language string) (*ASRResp, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "unit.wav")
	if err != nil {
		return nil, err
	}
	if _, err = fw.Write(audio); err != nil {
		return nil, err
	}
	if language != "" {
		if err = w.WriteField("language", language); err != nil {
			return nil, err
		}
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/transcribe", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("asr", resp)
	}

	var out ASRResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("asr decode: %w", err)
	}
	return &out, nil
}
