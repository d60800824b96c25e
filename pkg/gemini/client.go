// Package gemini wraps the Google Gen AI SDK for plain text generation.
package gemini

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

// Client defines the Gemini operations used by the pipeline.
type Client interface {
	GenerateText(ctx context.Context, req TextRequest) (*TextResponse, error)
}

// TextRequest is a single-turn generation request.
type TextRequest struct {
	Model           string
	System          string
	Prompt          string
	MaxOutputTokens int32
	Temperature     *float32
	TopP            *float32
}

// TextResponse carries the generated text and token counts.
type TextResponse struct {
	Text         string
	Model        string
	FinishReason string
	InputTokens  int64
	OutputTokens int64
}

// ErrEmptyResponse is returned when the model produced no candidate text.
var ErrEmptyResponse = eris.New("gemini: empty response")

type sdkClient struct {
	cli *genai.Client
}

// NewClient creates a Gemini API client. baseURL overrides the endpoint and
// is empty in production.
func NewClient(ctx context.Context, apiKey, baseURL string) (Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	return &sdkClient{cli: cli}, nil
}

func (c *sdkClient) GenerateText(ctx context.Context, req TextRequest) (*TextResponse, error) {
	gc := &genai.GenerateContentConfig{
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
	}
	if req.System != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	resp, err := c.cli.Models.GenerateContent(ctx, req.Model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}}},
		gc,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "gemini: generate content (%s)", req.Model)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	out := &TextResponse{
		Text:         sb.String(),
		Model:        req.Model,
		FinishReason: string(resp.Candidates[0].FinishReason),
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
