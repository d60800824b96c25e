// Package llm adapts the text-generation backends to one request/response
// shape and bounds the calls every run makes against them.
package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/internal/resilience"
)

// Request is one single-turn generation call.
type Request struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int64
	Temperature *float64
	TopP        *float64
}

// Response is the generated text plus the tokens it cost.
type Response struct {
	Text  string
	Model string
	Usage model.TokenUsage
}

// Generator produces one text completion per request.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// UnsetTemperature leaves the backend's default temperature in place.
const UnsetTemperature = -1.0

// Sampling returns pointers for the sampling parameters. A negative
// temperature or a non-positive top-p stays unset so the backend default
// applies. A temperature of 0 is sent as-is for deterministic sampling.
func Sampling(temperature, topP float64) (t, p *float64) {
	if temperature >= 0 {
		t = &temperature
	}
	if topP > 0 {
		p = &topP
	}
	return t, p
}

// statusError tags err with a retryable backend HTTP status so the pool can
// tell throttling apart from other failures.
func statusError(err error, status int) error {
	if !resilience.IsTransientHTTPStatus(status) {
		return err
	}
	return resilience.NewTransientError(err, status)
}

// Throttled reports whether err carries an HTTP 429.
func Throttled(err error) bool {
	var te *resilience.TransientError
	return errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests
}
