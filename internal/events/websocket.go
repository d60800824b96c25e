package events

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

// WebSocketSink pushes events as JSON frames. One writer goroutine owns all
// writes to the connection; one reader goroutine services pongs and close
// frames. Either side failing cancels the run with ErrConsumerGone.
type WebSocketSink struct {
	conn   *websocket.Conn
	cancel context.CancelCauseFunc

	out  chan Event
	done chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

// NewWebSocketSink takes ownership of conn. cancel is called with
// ErrConsumerGone when the connection fails.
func NewWebSocketSink(conn *websocket.Conn, cancel context.CancelCauseFunc) *WebSocketSink {
	s := &WebSocketSink{
		conn:   conn,
		cancel: cancel,
		out:    make(chan Event, 32),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	go s.readLoop()
	return s
}

// Send implements Sink. It queues ev for the writer and fails once the
// connection is gone. Send must not race with Close.
func (s *WebSocketSink) Send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return eris.New("events: websocket sink closed")
	}
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	select {
	case s.out <- ev:
		return nil
	case <-s.done:
		return s.failure()
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "events: websocket send")
	}
}

// Close drains queued events, sends a close frame and waits for the writer.
// The connection itself is closed too.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.mu.Unlock()

	<-s.done
	return s.conn.Close()
}

func (s *WebSocketSink) writeLoop() {
	defer close(s.done)
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-s.out:
			if !ok {
				_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				s.fail(eris.Wrap(err, "events: websocket deadline"))
				return
			}
			if err := s.conn.WriteJSON(ev); err != nil {
				s.fail(eris.Wrap(err, "events: websocket write"))
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				s.fail(eris.Wrap(err, "events: websocket deadline"))
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.fail(eris.Wrap(err, "events: websocket ping"))
				return
			}
		}
	}
}

// readLoop discards client frames. It ends with an error when the client
// goes away, including after a normal close.
func (s *WebSocketSink) readLoop() {
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.fail(eris.Wrap(err, "events: websocket read"))
			}
			return
		}
	}
}

func (s *WebSocketSink) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	zap.L().Debug("events: websocket consumer failed", zap.Error(err))
	if s.cancel != nil {
		s.cancel(ErrConsumerGone)
	}
}

func (s *WebSocketSink) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return ErrConsumerGone
}
