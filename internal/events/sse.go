package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
)

// SSESink writes each event as a "data: <json>" server-sent event and
// flushes it.
type SSESink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSESink sets the event-stream headers on w.
func NewSSESink(w http.ResponseWriter) *SSESink {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &SSESink{w: w, rc: http.NewResponseController(w)}
}

// Send implements Sink. A write or flush error means the client is gone.
func (s *SSESink) Send(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "events: sse send")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal event")
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return eris.Wrap(err, "events: sse write")
	}
	if err := s.rc.Flush(); err != nil {
		return eris.Wrap(err, "events: sse flush")
	}
	return nil
}
