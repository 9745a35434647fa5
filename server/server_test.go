package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/pipeline"
)

type stubAsker struct {
	answer *pipeline.Answer
	chunks []string
	err    error

	calls        int
	lastQuestion string
}

func (a *stubAsker) Ask(ctx context.Context, question string) (*pipeline.Answer, error) {
	a.calls++
	a.lastQuestion = question
	if a.err != nil {
		return nil, a.err
	}
	return a.answer, nil
}

func (a *stubAsker) AskStream(ctx context.Context, question string, fn func(chunk []byte)) (*pipeline.Answer, error) {
	a.calls++
	a.lastQuestion = question
	if a.err != nil {
		return nil, a.err
	}
	for _, chunk := range a.chunks {
		fn([]byte(chunk))
	}
	return a.answer, nil
}

type stubHealthStore struct {
	stats ragchat.StoreStats
	err   error
}

func (s *stubHealthStore) Add(ctx context.Context, docs []ragchat.Document) error { return nil }

func (s *stubHealthStore) Search(ctx context.Context, query string, k int) ([]ragchat.SearchResult, error) {
	return nil, nil
}

func (s *stubHealthStore) SearchWithFilter(ctx context.Context, query string, k int, filter map[string]any) ([]ragchat.SearchResult, error) {
	return nil, nil
}

func (s *stubHealthStore) Delete(ctx context.Context, ids []string) error { return nil }

func (s *stubHealthStore) Stats(ctx context.Context) (ragchat.StoreStats, error) {
	return s.stats, s.err
}

func (s *stubHealthStore) Close() error { return nil }

func defaultAnswer() *pipeline.Answer {
	return &pipeline.Answer{
		Question:   "What is LCEL?",
		Answer:     "LCEL **composes** runnables.",
		Sources:    []string{"https://example.com/lcel", "https://example.com/expression"},
		Confidence: 0.8,
	}
}

func newTestServer(asker Asker, store ragchat.VectorStore) *Server {
	cfg := ragchat.Config{
		StoreType: "memory",
		ChatModel: "gpt-4o-mini",
	}
	return NewServer(cfg, asker, store)
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(data)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHandleAsk(t *testing.T) {
	asker := &stubAsker{answer: defaultAnswer()}
	s := newTestServer(asker, &stubHealthStore{})

	rr := postJSON(t, s.Handler(), "/api/ask", AskRequest{Question: "What is LCEL?"})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, "LCEL **composes** runnables.", resp.Answer)
	assert.Contains(t, resp.AnswerHTML, "<strong>composes</strong>")
	assert.Equal(t, []string{"https://example.com/lcel", "https://example.com/expression"}, resp.SourceURLs)
	assert.GreaterOrEqual(t, resp.ExecutionTimeMs, int64(0))
	assert.False(t, resp.Cached)

	_, err := uuid.Parse(resp.SessionID)
	assert.NoError(t, err, "session id should be a uuid")

	history := s.SessionHistory(resp.SessionID)
	require.Len(t, history, 1)
	assert.Equal(t, "What is LCEL?", history[0].Question)
}

func TestHandleAsk_SessionHistory(t *testing.T) {
	asker := &stubAsker{answer: defaultAnswer()}
	s := newTestServer(asker, &stubHealthStore{})

	for i := 0; i < maxSessionExchanges+2; i++ {
		rr := postJSON(t, s.Handler(), "/api/ask", AskRequest{
			Question:  fmt.Sprintf("question %d", i),
			SessionID: "session-1",
		})
		require.Equal(t, http.StatusOK, rr.Code)
	}

	history := s.SessionHistory("session-1")
	require.Len(t, history, maxSessionExchanges)
	assert.Equal(t, "question 2", history[0].Question)
	assert.Equal(t, fmt.Sprintf("question %d", maxSessionExchanges+1), history[len(history)-1].Question)
}

func TestHandleAsk_EmptyQuestion(t *testing.T) {
	s := newTestServer(&stubAsker{answer: defaultAnswer()}, &stubHealthStore{})

	rr := postJSON(t, s.Handler(), "/api/ask", AskRequest{Question: "   "})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "question is required")
}

func TestHandleAsk_InvalidBody(t *testing.T) {
	s := newTestServer(&stubAsker{answer: defaultAnswer()}, &stubHealthStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestHandleAsk_MethodNotAllowed(t *testing.T) {
	s := newTestServer(&stubAsker{answer: defaultAnswer()}, &stubHealthStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/ask", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleAsk_PipelineError(t *testing.T) {
	asker := &stubAsker{err: errors.New("model unavailable")}
	s := newTestServer(asker, &stubHealthStore{})

	rr := postJSON(t, s.Handler(), "/api/ask", AskRequest{Question: "What is LCEL?"})
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "failed to answer question")
}

type sseRecord struct {
	event string
	data  map[string]string
}

func parseSSE(t *testing.T, body string) []sseRecord {
	t.Helper()
	var records []sseRecord
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var rec sseRecord
		for _, line := range strings.Split(frame, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				rec.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				payload := strings.TrimPrefix(line, "data: ")
				require.NoError(t, json.Unmarshal([]byte(payload), &rec.data))
			}
		}
		records = append(records, rec)
	}
	return records
}

func TestHandleAskStream(t *testing.T) {
	asker := &stubAsker{
		answer: defaultAnswer(),
		chunks: []string{"LCEL ", "**composes** ", "runnables."},
	}
	s := newTestServer(asker, &stubHealthStore{})

	rr := postJSON(t, s.Handler(), "/api/ask/stream", AskRequest{Question: "What is LCEL?"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))

	records := parseSSE(t, rr.Body.String())
	require.Len(t, records, 7)

	assert.Equal(t, "metadata", records[0].event)
	assert.NotEmpty(t, records[0].data["session_id"])

	var streamed strings.Builder
	for _, rec := range records[1:4] {
		require.Equal(t, "message", rec.event)
		streamed.WriteString(rec.data["content"])
	}
	assert.Equal(t, "LCEL **composes** runnables.", streamed.String())

	assert.Equal(t, "source", records[4].event)
	assert.Equal(t, "https://example.com/lcel", records[4].data["url"])
	assert.Equal(t, "source", records[5].event)
	assert.Equal(t, "https://example.com/expression", records[5].data["url"])

	assert.Equal(t, "done", records[6].event)

	history := s.SessionHistory(records[0].data["session_id"])
	require.Len(t, history, 1)
	assert.Equal(t, "LCEL **composes** runnables.", history[0].Answer)
}

func TestHandleAskStream_Error(t *testing.T) {
	asker := &stubAsker{err: errors.New("model unavailable")}
	s := newTestServer(asker, &stubHealthStore{})

	rr := postJSON(t, s.Handler(), "/api/ask/stream", AskRequest{Question: "What is LCEL?"})
	require.Equal(t, http.StatusOK, rr.Code)

	records := parseSSE(t, rr.Body.String())
	require.Len(t, records, 3)
	assert.Equal(t, "metadata", records[0].event)
	assert.Equal(t, "error", records[1].event)
	assert.Equal(t, "failed to answer question", records[1].data["message"])
	assert.Equal(t, "done", records[2].event)
}

func TestHandleAskStream_EmptyQuestion(t *testing.T) {
	s := newTestServer(&stubAsker{answer: defaultAnswer()}, &stubHealthStore{})

	rr := postJSON(t, s.Handler(), "/api/ask/stream", AskRequest{Question: ""})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "question is required")
}

func TestHandleHealth(t *testing.T) {
	store := &stubHealthStore{stats: ragchat.StoreStats{TotalDocuments: 42, LastUpdated: time.Now()}}
	s := newTestServer(&stubAsker{answer: defaultAnswer()}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "memory", resp["vector_store"])
	assert.Equal(t, "gpt-4o-mini", resp["model"])
	assert.Equal(t, float64(42), resp["documents"])
}

func TestHandleHealth_Degraded(t *testing.T) {
	store := &stubHealthStore{err: errors.New("connection refused")}
	s := newTestServer(&stubAsker{answer: defaultAnswer()}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "degraded")
}

func TestHandleIndex(t *testing.T) {
	s := newTestServer(&stubAsker{answer: defaultAnswer()}, &stubHealthStore{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "LangChain Docs Chat")
	assert.Contains(t, rr.Body.String(), "gpt-4o-mini")
}

func TestHandleIndex_NotFound(t *testing.T) {
	s := newTestServer(&stubAsker{answer: defaultAnswer()}, &stubHealthStore{})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRenderAnswerHTML(t *testing.T) {
	html := renderAnswerHTML("Use `Runnable` like this:\n\n```go\nchain.Invoke(ctx)\n```")
	assert.Contains(t, html, "<code>Runnable</code>")
	assert.Contains(t, html, "chain.Invoke(ctx)")

	html = renderAnswerHTML("<script>alert(1)</script>**bold**")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "<strong>bold</strong>")
}
