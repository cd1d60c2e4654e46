package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// --- Ollama (/api/generate, /api/embeddings) ---
type GenerateReq struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}
type GenerateResp struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type EmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}
type EmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

type Ollama struct {
	http        *HTTP
	url         string
	model       string
	embedModel  string
	temperature float64
	topP        float64
}

func NewOllama(h *HTTP, url, model, embedModel string, temperature, topP float64) *Ollama {
	return &Ollama{
		http:        h,
		url:         strings.TrimRight(url, "/"),
		model:       model,
		embedModel:  embedModel,
		temperature: temperature,
		topP:        topP,
	}
}

func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.http.OllamaGenerate(ctx, o.url, GenerateReq{
		Model:   o.model,
		Prompt:  prompt,
		Options: map[string]any{"temperature": o.temperature, "top_p": o.topP},
	})
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (o *Ollama) Name() string { return "ollama:" + o.embedModel }

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.http.OllamaEmbed(ctx, o.url, EmbedReq{Model: o.embedModel, Prompt: text})
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embed: empty embedding")
	}
	v := make([]float32, len(resp.Embedding))
	for i, x := range resp.Embedding {
		v[i] = float32(x)
	}
	return v, nil
}

func (h *HTTP) OllamaGenerate(ctx context.Context, url string, in GenerateReq) (*GenerateResp, error) {
	var out GenerateResp
	if err := h.postJSON(ctx, "ollama generate", url+"/api/generate", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTP) OllamaEmbed(ctx context.Context, url string, in EmbedReq) (*EmbedResp, error) {
	var out EmbedResp
	if err := h.postJSON(ctx, "ollama embed", url+"/api/embeddings", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTP) postJSON(ctx context.Context, service, url string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(service, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", service, err)
	}
	return nil
}
