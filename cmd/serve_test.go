//go:build !integration

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intent-cli/internal/artifact"
	"github.com/sells-group/intent-cli/internal/events"
	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/internal/orchestrator"
	"github.com/sells-group/intent-cli/internal/store"
)

// fakeRunner replays a fixed event sequence into the sink.
type fakeRunner struct {
	events []events.Event
	res    *events.Results
	err    error
	jobs   chan orchestrator.Job
}

func newFakeRunner(evs ...events.Event) *fakeRunner {
	return &fakeRunner{events: evs, jobs: make(chan orchestrator.Job, 4)}
}

func (f *fakeRunner) Run(ctx context.Context, job orchestrator.Job, sink events.Sink) (*events.Results, error) {
	f.jobs <- job
	for _, ev := range f.events {
		if err := sink.Send(ctx, ev); err != nil {
			return nil, err
		}
	}
	return f.res, f.err
}

func sampleEvents() []events.Event {
	return []events.Event{
		events.Progress("Loaded %d rows", 12),
		events.Progress("Extracted %d/%d", 3, 3),
		events.Complete(events.Results{
			Intents:        []model.IntentSummary{{Intent: "Billing - Payments - Refund", Volume: 2, Percentage: 66.7}},
			TotalIntents:   1,
			TotalProcessed: 3,
			RunID:          "01JNQ3S5Y0",
		}),
	}
}

func newTestRouter(t *testing.T, d discoverer, st store.Store) http.Handler {
	t.Helper()
	return newRouter(d, st, routerOptions{FilterMinScore: 4})
}

func TestRouter_Health(t *testing.T) {
	h := newTestRouter(t, newFakeRunner(), nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_GenerateStreamsEvents(t *testing.T) {
	runner := newFakeRunner(sampleEvents()...)
	h := newTestRouter(t, runner, nil)

	body := `{"input":"calls.csv","taxonomy":"tax.txt","company_name":"Acme","max_calls":50,"threshold":3}`
	req := httptest.NewRequest(http.MethodPost, "/intents/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	got := parseSSE(t, rr.Body.String())
	require.Len(t, got, 3)
	assert.Equal(t, "Loaded 12 rows", got[0].Message)
	assert.Equal(t, events.TypeComplete, got[2].Type)
	require.NotNil(t, got[2].Results)
	assert.Equal(t, 1, got[2].Results.TotalIntents)

	job := <-runner.jobs
	assert.Equal(t, "calls.csv", job.Input)
	assert.Equal(t, "Acme", job.Company)
	assert.Equal(t, 50, job.MaxConversations)
	assert.Equal(t, 3, job.Threshold)
}

func TestRouter_GenerateInvalidBody(t *testing.T) {
	h := newTestRouter(t, newFakeRunner(), nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/intents/generate", strings.NewReader("{")))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestRouter_GenerateCORS(t *testing.T) {
	h := newRouter(newFakeRunner(), nil, routerOptions{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/intents/generate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_WebSocketStreamsEvents(t *testing.T) {
	runner := newFakeRunner(sampleEvents()...)
	srv := httptest.NewServer(newTestRouter(t, runner, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/intents/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	require.NoError(t, conn.WriteJSON(map[string]any{
		"input":        "calls.csv",
		"taxonomy":     "tax.txt",
		"company_name": "Acme",
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got []events.Event
	for {
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		got = append(got, ev)
		if ev.Terminal() {
			break
		}
	}

	require.Len(t, got, 3)
	assert.Equal(t, "Extracted 3/3", got[1].Message)
	assert.Equal(t, events.TypeComplete, got[2].Type)

	job := <-runner.jobs
	assert.Equal(t, "Acme", job.Company)
}

func TestRouter_WebSocketInvalidFirstMessage(t *testing.T) {
	runner := newFakeRunner(sampleEvents()...)
	srv := httptest.NewServer(newTestRouter(t, runner, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/intents/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeError, ev.Type)
	assert.Empty(t, runner.jobs)
}

func TestRouter_RunsWithoutStore(t *testing.T) {
	h := newTestRouter(t, newFakeRunner(), nil)

	for _, path := range []string{"/runs", "/runs/abc"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}
}

func TestRouter_Runs(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	acme, err := st.CreateRun(ctx, model.RunInput{Company: "Acme", TranscriptSource: "a.csv", TaxonomySource: "t.txt"})
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, model.RunInput{Company: "Beta", TranscriptSource: "b.csv", TaxonomySource: "t.txt"})
	require.NoError(t, err)
	_, err = st.CreatePhase(ctx, acme.ID, orchestrator.StageNormalize)
	require.NoError(t, err)

	h := newTestRouter(t, newFakeRunner(), st)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs?company=Acme", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, acme.ID, runs[0].ID)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/"+acme.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var detail struct {
		ID     string           `json:"id"`
		Input  model.RunInput   `json:"input"`
		Phases []model.RunPhase `json:"phases"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	assert.Equal(t, acme.ID, detail.ID)
	assert.Equal(t, "Acme", detail.Input.Company)
	require.Len(t, detail.Phases, 1)
	assert.Equal(t, orchestrator.StageNormalize, detail.Phases[0].Name)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_Filter(t *testing.T) {
	runDir := writeFinishedRun(t)
	h := newTestRouter(t, newFakeRunner(), nil)

	body, _ := json.Marshal(filterRequest{RunDir: runDir, Intent: "Billing - Payments - Refund"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/intents/filter", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rr.Code)
	var res filterResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Conversations)
	assert.Equal(t, 4, res.MinScore)
	assert.Equal(t, filepath.Join(runDir, "Refund", artifact.FileFiltered), res.File)

	body, _ = json.Marshal(filterRequest{RunDir: runDir, Intent: "Account - Access - Password Reset"})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/intents/filter", bytes.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	body, _ = json.Marshal(filterRequest{Intent: "Billing - Payments - Refund"})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/intents/filter", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestQueryInt(t *testing.T) {
	n, err := queryInt("")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = queryInt("25")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	_, err = queryInt("-3")
	assert.Error(t, err)
	_, err = queryInt("ten")
	assert.Error(t, err)
}

func parseSSE(t *testing.T, body string) []events.Event {
	t.Helper()
	var out []events.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev events.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		out = append(out, ev)
	}
	require.NoError(t, sc.Err())
	return out
}

func strPtr(s string) *string { return &s }

// writeFinishedRun writes the transcript and mapping artifacts of a small
// finished run and returns its directory.
func writeFinishedRun(t *testing.T) string {
	t.Helper()
	run, err := artifact.NewRun(t.TempDir(), "Acme", time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, run.WriteTranscripts([]model.Conversation{
		{ID: "call1", Turns: []model.Turn{{Speaker: model.SpeakerCaller, Text: "I want my money back"}}},
		{ID: "call2", Turns: []model.Turn{{Speaker: model.SpeakerCaller, Text: "Refund the second charge"}}},
		{ID: "call3", Turns: []model.Turn{{Speaker: model.SpeakerCaller, Text: "I can't log in"}}},
	}))
	require.NoError(t, run.WriteMapping([]model.CategorizedIntent{
		{ReasonRecord: model.ReasonRecord{Index: 0, ConversationID: "call1", Reason: strPtr("refund request")}, CategoryPath: "Billing - Payments - Refund", L1Score: 5, L2Score: 5, L3Score: 5},
		{ReasonRecord: model.ReasonRecord{Index: 1, ConversationID: "call2", Reason: strPtr("duplicate charge")}, CategoryPath: "Billing - Payments - Refund", L1Score: 5, L2Score: 4, L3Score: 3},
		{ReasonRecord: model.ReasonRecord{Index: 2, ConversationID: "call3", Reason: strPtr("login issue")}, CategoryPath: "Account - Access - Login", L1Score: 5, L2Score: 5, L3Score: 5},
	}))
	return run.Dir
}
