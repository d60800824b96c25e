// Package events carries pipeline progress to a single consumer. A failed
// write means the consumer is gone and stops the run.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intent-cli/internal/coverage"
	"github.com/sells-group/intent-cli/internal/model"
)

// ErrConsumerGone is returned once a write to the consumer has failed.
var ErrConsumerGone = eris.New("events: consumer gone")

// ErrTerminated is returned for events sent after complete or error.
var ErrTerminated = eris.New("events: stream already terminated")

// Type names an event kind.
type Type string

const (
	TypeProgress Type = "progress"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
)

// Event is one message on the stream.
type Event struct {
	Type    Type     `json:"type"`
	Message string   `json:"message,omitempty"`
	Results *Results `json:"results,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

// Results is the payload of the complete event.
type Results struct {
	Intents           []model.IntentSummary `json:"intents"`
	TotalIntents      int                   `json:"total_intents"`
	TotalProcessed    int                   `json:"total_processed"`
	IntentsAssigned   int                   `json:"intents_assigned"`
	IntentMappingFile string                `json:"intent_mapping_file,omitempty"`
	ProjectDir        string                `json:"project_dir,omitempty"`
	RunID             string                `json:"run_id,omitempty"`
	Coverage          *coverage.Report      `json:"coverage,omitempty"`
}

// Progress builds a progress event.
func Progress(format string, args ...any) Event {
	return Event{Type: TypeProgress, Message: fmt.Sprintf(format, args...)}
}

// Complete builds the complete event.
func Complete(r Results) Event {
	return Event{Type: TypeComplete, Results: &r}
}

// Error builds the error event.
func Error(msg string) Event {
	return Event{Type: TypeError, Message: msg}
}

// Sink delivers events to one consumer, in order.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Emitter guards a Sink for one run. The first failed write cancels the run
// with ErrConsumerGone as the cause and every later send returns
// ErrConsumerGone without touching the sink. At most one terminal event is
// delivered.
type Emitter struct {
	sink   Sink
	cancel context.CancelCauseFunc

	mu         sync.Mutex
	gone       bool
	terminated bool
}

// NewEmitter wraps sink. cancel stops the run and may be nil.
func NewEmitter(sink Sink, cancel context.CancelCauseFunc) *Emitter {
	return &Emitter{sink: sink, cancel: cancel}
}

// Emit sends ev.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gone {
		return ErrConsumerGone
	}
	if e.terminated {
		return ErrTerminated
	}

	if err := e.sink.Send(ctx, ev); err != nil {
		e.gone = true
		zap.L().Info("events: consumer gone, stopping run", zap.Error(err))
		if e.cancel != nil {
			e.cancel(ErrConsumerGone)
		}
		return eris.Wrap(ErrConsumerGone, err.Error())
	}
	if ev.Terminal() {
		e.terminated = true
	}
	return nil
}

// Progress sends a formatted progress event.
func (e *Emitter) Progress(ctx context.Context, format string, args ...any) error {
	return e.Emit(ctx, Progress(format, args...))
}

// ConsumerGone reports whether ctx was canceled because the consumer went
// away, either through a failed write or a transport-level disconnect.
func ConsumerGone(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrConsumerGone)
}

// WithConsumer returns a context that keeps parent's values and is canceled
// with ErrConsumerGone when parent is done. Servers use it to tell a client
// disconnect on the request context apart from other cancellations.
func WithConsumer(parent context.Context) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() { cancel(ErrConsumerGone) })
	return ctx, func(cause error) {
		stop()
		cancel(cause)
	}
}

// Gone reports whether a write has failed.
func (e *Emitter) Gone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gone
}
