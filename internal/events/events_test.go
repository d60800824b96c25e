package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intent-cli/internal/model"
)

type recordingSink struct {
	events []Event
	failOn int
}

func (r *recordingSink) Send(_ context.Context, ev Event) error {
	if r.failOn > 0 && len(r.events)+1 == r.failOn {
		return errors.New("broken pipe")
	}
	r.events = append(r.events, ev)
	return nil
}

func TestEmitter_WriteFailureCancelsRun(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sink := &recordingSink{failOn: 2}
	em := NewEmitter(sink, cancel)

	require.NoError(t, em.Progress(ctx, "step %d", 1))
	err := em.Progress(ctx, "step %d", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConsumerGone)
	assert.True(t, em.Gone())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.True(t, ConsumerGone(ctx))

	assert.ErrorIs(t, em.Emit(ctx, Error("late")), ErrConsumerGone)
	assert.Len(t, sink.events, 1)
	assert.Equal(t, "step 1", sink.events[0].Message)
}

type ctxKey struct{}

func TestWithConsumer_ParentDoneMeansConsumerGone(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))
	ctx, cancel := WithConsumer(parent)
	defer cancel(nil)

	assert.Equal(t, "req-1", ctx.Value(ctxKey{}))
	assert.False(t, ConsumerGone(ctx))

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not canceled after parent")
	}
	assert.True(t, ConsumerGone(ctx))
}

func TestWithConsumer_OwnCancelIsNotDisconnect(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := WithConsumer(parent)
	cancel(nil)
	cancelParent()

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, ConsumerGone(ctx))
}

func TestEmitter_SingleTerminalEvent(t *testing.T) {
	sink := &recordingSink{}
	em := NewEmitter(sink, nil)
	ctx := context.Background()

	require.NoError(t, em.Emit(ctx, Complete(Results{TotalProcessed: 3})))
	assert.ErrorIs(t, em.Emit(ctx, Error("after")), ErrTerminated)
	assert.ErrorIs(t, em.Progress(ctx, "after"), ErrTerminated)
	require.Len(t, sink.events, 1)
	assert.True(t, sink.events[0].Terminal())
	assert.False(t, em.Gone())
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(Progress("Progress: %d%%", 50))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"progress","message":"Progress: 50%"}`, string(data))

	data, err = json.Marshal(Complete(Results{
		Intents:         []model.IntentSummary{{Intent: "A - B - C", Volume: 1, Percentage: 100, Level1: "A", Level2: "B", Level3: "C"}},
		TotalIntents:    1,
		TotalProcessed:  1,
		IntentsAssigned: 1,
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"complete","results":{
		"intents":[{"intent":"A - B - C","volume":1,"percentage":100,"level1":"A","level2":"B","level3":"C"}],
		"total_intents":1,"total_processed":1,"intents_assigned":1}}`, string(data))
}

func TestSSESink(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := NewSSESink(rec)

	require.NoError(t, sink.Send(context.Background(), Progress("hello")))
	require.NoError(t, sink.Send(context.Background(), Error("bad input")))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)
	assert.Equal(t,
		"data: {\"type\":\"progress\",\"message\":\"hello\"}\n\n"+
			"data: {\"type\":\"error\",\"message\":\"bad input\"}\n\n",
		rec.Body.String())
}

type brokenWriter struct {
	header http.Header
}

func (b *brokenWriter) Header() http.Header       { return b.header }
func (b *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset by peer") }
func (b *brokenWriter) WriteHeader(int)           {}
func (b *brokenWriter) Flush()                    {}

func TestSSESink_WriteError(t *testing.T) {
	sink := NewSSESink(&brokenWriter{header: http.Header{}})
	err := sink.Send(context.Background(), Progress("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestSSESink_CanceledContext(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := NewSSESink(rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, sink.Send(ctx, Progress("x")))
	assert.Empty(t, rec.Body.String())
}

func TestJSONLinesSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLinesSink(&buf)
	require.NoError(t, sink.Send(context.Background(), Progress("a")))
	require.NoError(t, sink.Send(context.Background(), Progress("b")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"type":"progress","message":"b"}`, lines[1])
}

func wsServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWebSocketSink_DeliversInOrder(t *testing.T) {
	ts := wsServer(t, func(conn *websocket.Conn) {
		sink := NewWebSocketSink(conn, nil)
		ctx := context.Background()
		_ = sink.Send(ctx, Progress("one"))
		_ = sink.Send(ctx, Progress("two"))
		_ = sink.Send(ctx, Complete(Results{TotalProcessed: 2}))
		_ = sink.Close()
	})

	conn := dial(t, ts)
	defer conn.Close()

	var got []Event
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
		got = append(got, ev)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Message)
	assert.Equal(t, "two", got[1].Message)
	assert.Equal(t, TypeComplete, got[2].Type)
	require.NotNil(t, got[2].Results)
	assert.Equal(t, 2, got[2].Results.TotalProcessed)
}

func TestWebSocketSink_ClientDisconnectCancels(t *testing.T) {
	canceled := make(chan struct{})
	sendErr := make(chan error, 1)

	ts := wsServer(t, func(conn *websocket.Conn) {
		ctx, cancel := context.WithCancelCause(context.Background())
		sink := NewWebSocketSink(conn, cancel)
		defer sink.Close() //nolint:errcheck

		<-ctx.Done()
		if ConsumerGone(ctx) {
			close(canceled)
		}

		var err error
		for i := 0; i < 100 && err == nil; i++ {
			err = sink.Send(context.Background(), Progress("late"))
			time.Sleep(time.Millisecond)
		}
		sendErr <- err
	})

	conn := dial(t, ts)
	require.NoError(t, conn.Close())

	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("run was not canceled with ErrConsumerGone after client disconnect")
	}
	select {
	case err := <-sendErr:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("send never failed")
	}
}
