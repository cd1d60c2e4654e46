package clients

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini serves generation and embeddings from the Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	embedModel  string
	temperature float32
	topP        float32
}

func NewGemini(ctx context.Context, apiKey, model, embedModel string, temperature, topP float64) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key not set")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{
		client:      c,
		model:       model,
		embedModel:  embedModel,
		temperature: float32(temperature),
		topP:        float32(topP),
	}, nil
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
		TopP:        genai.Ptr(g.topP),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

func (g *Gemini) Name() string { return "gemini:" + g.embedModel }

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}
