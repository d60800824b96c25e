package events

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// JSONLinesSink writes one JSON object per line, for the CLI.
type JSONLinesSink struct {
	enc *json.Encoder
}

// NewJSONLinesSink writes to w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

// Send implements Sink.
func (s *JSONLinesSink) Send(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "events: jsonl send")
	}
	if err := s.enc.Encode(ev); err != nil {
		return eris.Wrap(err, "events: jsonl write")
	}
	return nil
}
