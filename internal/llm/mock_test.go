package llm

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/intent-cli/pkg/anthropic"
	"github.com/sells-group/intent-cli/pkg/gemini"
)

// --- Generator Mock ---

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

func (m *mockGenerator) Name() string { return "mock" }

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- Gemini Mock ---

type mockGeminiClient struct {
	mock.Mock
}

func (m *mockGeminiClient) GenerateText(ctx context.Context, req gemini.TextRequest) (*gemini.TextResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gemini.TextResponse), args.Error(1)
}

// funcGenerator adapts a function to Generator.
type funcGenerator func(ctx context.Context, req Request) (*Response, error)

func (f funcGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

func (f funcGenerator) Name() string { return "func" }
