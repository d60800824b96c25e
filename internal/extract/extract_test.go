package extract

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intent-cli/internal/llm"
	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/internal/prompt"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

func (m *mockGenerator) Name() string { return "mock" }

type stubGenerator func(ctx context.Context, req llm.Request) (*llm.Response, error)

func (f stubGenerator) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return f(ctx, req)
}

func (f stubGenerator) Name() string { return "stub" }

func testConfig() Config {
	return Config{
		Workers:  4,
		MinWords: 5,
		MaxWords: 10,
		Template: prompt.Template{
			System: "{company_name}: {categories}",
			User:   "{conversation}|{min_words}-{max_words}",
		},
		Company: "Acme",
	}
}

func conversations(n int) []model.Conversation {
	convs := make([]model.Conversation, n)
	for i := range convs {
		convs[i] = model.Conversation{
			ID:    fmt.Sprintf("call-%02d", i),
			Turns: []model.Turn{{Speaker: model.SpeakerCaller, Text: fmt.Sprintf("id call-%02d", i)}},
		}
	}
	return convs
}

// idFromPrompt recovers the conversation id the stub was asked about.
func idFromPrompt(p string) string {
	i := strings.Index(p, "id ")
	return strings.Fields(p[i+3:])[0]
}

func TestRun_IndexStableUnderJitter(t *testing.T) {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(7, 11))
	gen := stubGenerator(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		mu.Lock()
		d := time.Duration(rng.IntN(5)) * time.Millisecond
		mu.Unlock()
		time.Sleep(d)
		id := strings.TrimSuffix(idFromPrompt(req.Prompt), "|5-10")
		return &llm.Response{Text: "reason for " + id, Usage: model.TokenUsage{Calls: 1}}, nil
	})

	convs := conversations(40)
	res, err := Run(context.Background(), gen, convs, "- A", testConfig(), nil)
	require.NoError(t, err)
	require.Len(t, res.Records, len(convs))

	for i, rec := range res.Records {
		assert.Equal(t, i, rec.Index)
		assert.Equal(t, convs[i].ID, rec.ConversationID)
		require.True(t, rec.Present())
		assert.Equal(t, "reason for "+convs[i].ID, rec.Text())
	}
	assert.Equal(t, 0, res.Failures)
	assert.Equal(t, 40, res.Reasons())
	assert.Equal(t, 40, res.Usage.Calls)
}

func TestRun_PromptVariables(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, llm.Request{
		System:    "Acme: - Billing",
		Prompt:    "Caller: id call-00|5-10",
		Model:     "m",
		MaxTokens: 256,
	}).Return(&llm.Response{Text: "billing issue"}, nil)

	cfg := testConfig()
	cfg.Model = "m"
	cfg.MaxTokens = 256
	res, err := Run(context.Background(), gen, conversations(1), "- Billing", cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "billing issue", res.Records[0].Text())
	gen.AssertExpectations(t)
}

func TestRun_FailuresAreAbsentRecords(t *testing.T) {
	gen := stubGenerator(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		switch id := strings.TrimSuffix(idFromPrompt(req.Prompt), "|5-10"); id {
		case "call-01":
			return nil, errors.New("backend error")
		case "call-03":
			return &llm.Response{Text: "  \n"}, nil
		default:
			return &llm.Response{Text: "ok " + id}, nil
		}
	})

	res, err := Run(context.Background(), gen, conversations(5), "", testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failures)
	assert.Equal(t, 3, res.Reasons())
	assert.False(t, res.Records[1].Present())
	assert.False(t, res.Records[3].Present())
	assert.Equal(t, "call-01", res.Records[1].ConversationID)
	assert.Equal(t, "ok call-04", res.Records[4].Text())
}

func TestRun_ProgressCountsEveryConversation(t *testing.T) {
	gen := stubGenerator(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "x"}, nil
	})

	var seen []int
	_, err := Run(context.Background(), gen, conversations(6), "", testConfig(), func(done, total int) {
		assert.Equal(t, 6, total)
		seen = append(seen, done)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, seen)
}

func TestRun_CancelStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	gen := stubGenerator(func(context.Context, llm.Request) (*llm.Response, error) {
		if calls.Add(1) == 3 {
			cancel()
		}
		return &llm.Response{Text: "x"}, nil
	})

	cfg := testConfig()
	cfg.Workers = 1
	res, err := Run(ctx, gen, conversations(20), "", cfg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(3), calls.Load())
	assert.Len(t, res.Records, 20)
	assert.Equal(t, 17, res.Failures)
}

func TestRun_Empty(t *testing.T) {
	res, err := Run(context.Background(), &mockGenerator{}, nil, "", testConfig(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 0, res.Reasons())
}

func TestParseReason(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"billing issue", "billing issue"},
		{"  \n\nReason: Customer wants a refund\nextra", "Customer wants a refund"},
		{`"Update payment method"`, "Update payment method"},
		{"```\nlogin problem\n```", "login problem"},
		{"", ""},
		{"   ", ""},
		{"Note: reset password", "Note: reset password"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseReason(tt.in), tt.in)
	}
}
