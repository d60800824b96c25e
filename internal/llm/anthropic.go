package llm

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/pkg/anthropic"
)

// AnthropicGenerator sends requests through the Anthropic Messages API. The
// system text is sent as a cached block, so the taxonomy context repeated
// across a run's calls is billed at the cache-read rate.
type AnthropicGenerator struct {
	client   anthropic.Client
	model    string
	cacheTTL string
}

// NewAnthropicGenerator creates a generator using defaultModel when a
// request names none.
func NewAnthropicGenerator(client anthropic.Client, defaultModel string) *AnthropicGenerator {
	return &AnthropicGenerator{client: client, model: defaultModel, cacheTTL: "5m"}
}

// Name implements Generator.
func (g *AnthropicGenerator) Name() string { return "anthropic" }

// Generate implements Generator.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	m := req.Model
	if m == "" {
		m = g.model
	}

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       m,
		MaxTokens:   req.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(req.System, g.cacheTTL),
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return nil, statusError(eris.Wrap(err, "llm: anthropic generate"), apiErr.StatusCode)
		}
		return nil, eris.Wrap(err, "llm: anthropic generate")
	}

	zap.L().Debug("llm: anthropic usage",
		zap.String("model", m),
		zap.String("stop_reason", resp.StopReason),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.Int64("cache_read_tokens", resp.Usage.CacheReadInputTokens),
	)

	return &Response{
		Text:  resp.Text(),
		Model: m,
		Usage: model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
			Calls:               1,
		},
	}, nil
}
