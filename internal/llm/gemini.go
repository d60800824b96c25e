package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/pkg/gemini"
)

// GeminiGenerator sends requests through the Gemini API.
type GeminiGenerator struct {
	client gemini.Client
	model  string
}

// NewGeminiGenerator creates a generator using defaultModel when a request
// names none.
func NewGeminiGenerator(client gemini.Client, defaultModel string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: defaultModel}
}

// Name implements Generator.
func (g *GeminiGenerator) Name() string { return "gemini" }

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	m := req.Model
	if m == "" {
		m = g.model
	}

	resp, err := g.client.GenerateText(ctx, gemini.TextRequest{
		Model:           m,
		System:          req.System,
		Prompt:          req.Prompt,
		MaxOutputTokens: int32(req.MaxTokens),
		Temperature:     toFloat32(req.Temperature),
		TopP:            toFloat32(req.TopP),
	})
	if err != nil {
		return nil, statusError(eris.Wrap(err, "llm: gemini generate"), geminiStatus(err))
	}

	return &Response{
		Text:  resp.Text,
		Model: m,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.InputTokens),
			OutputTokens: int(resp.OutputTokens),
			Calls:        1,
		},
	}, nil
}

func toFloat32(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiPtr *genai.APIError
	if errors.As(err, &apiPtr) && apiPtr != nil {
		return apiPtr.Code
	}
	return 0
}
