package server

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/log"
	"github.com/langdocs/ragchat/pipeline"
)

//go:embed static/index.html
var staticFS embed.FS

var indexTemplate = template.Must(template.ParseFS(staticFS, "static/index.html"))

var htmlPolicy = bluemonday.UGCPolicy()

// maxSessionExchanges bounds how much history a session keeps.
const maxSessionExchanges = 10

// Asker answers documentation questions. *pipeline.AnswerPipeline satisfies it.
type Asker interface {
	Ask(ctx context.Context, question string) (*pipeline.Answer, error)
	AskStream(ctx context.Context, question string, fn func(chunk []byte)) (*pipeline.Answer, error)
}

// Exchange is one question and answer within a session.
type Exchange struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// AskRequest is the body of POST /api/ask and /api/ask/stream.
type AskRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// AskResponse is the reply to POST /api/ask.
type AskResponse struct {
	Answer          string   `json:"answer"`
	AnswerHTML      string   `json:"answer_html"`
	SourceURLs      []string `json:"source_urls"`
	SessionID       string   `json:"session_id"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	Cached          bool     `json:"cached,omitempty"`
}

// Server exposes the chatbot over HTTP: an embedded chat page, a JSON ask
// endpoint, an SSE streaming endpoint and a health check.
type Server struct {
	cfg      ragchat.Config
	pipeline Asker
	store    ragchat.VectorStore
	cache    *AnswerCache
	logger   log.Logger

	sessions   map[string][]Exchange
	sessionsMu sync.RWMutex

	mux *http.ServeMux
}

// NewServer creates the server and registers its routes.
func NewServer(cfg ragchat.Config, asker Asker, store ragchat.VectorStore) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: asker,
		store:    store,
		logger:   log.GetDefaultLogger(),
		sessions: make(map[string][]Exchange),
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/ask", s.handleAsk)
	s.mux.HandleFunc("/api/ask/stream", s.handleAskStream)

	return s
}

// SetCache enables the Redis answer cache.
func (s *Server) SetCache(cache *AnswerCache) {
	s.cache = cache
}

// SetLogger replaces the server logger.
func (s *Server) SetLogger(logger log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Handler returns the full HTTP handler including request logging.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.mux)
}

// Start blocks serving HTTP on the configured address.
func (s *Server) Start() error {
	addr := s.cfg.ServerHost + ":" + s.cfg.ServerPort
	s.logger.Info("starting server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("%s %s %s", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

// handleIndex serves the embedded chat page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, map[string]string{"Model": s.cfg.ChatModel}); err != nil {
		s.logger.Error("failed to render index: %v", err)
	}
}

// handleHealth reports store reachability and basic configuration.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":       "ok",
		"vector_store": s.cfg.StoreType,
		"model":        s.cfg.ChatModel,
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Warn("health check failed: %v", err)
		response["status"] = "degraded"
		sendJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	response["documents"] = stats.TotalDocuments
	sendJSON(w, http.StatusOK, response)
}

// handleAsk answers a question and returns the full response as JSON.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := s.decodeAskRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	ctx := r.Context()

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, req.Question)
		if err != nil {
			s.logger.Warn("answer cache lookup failed: %v", err)
		}
		if cached != nil {
			s.appendExchange(req.SessionID, req.Question, cached.Answer)
			sendJSON(w, http.StatusOK, AskResponse{
				Answer:          cached.Answer,
				AnswerHTML:      renderAnswerHTML(cached.Answer),
				SourceURLs:      cached.Sources,
				SessionID:       req.SessionID,
				ExecutionTimeMs: time.Since(start).Milliseconds(),
				Cached:          true,
			})
			return
		}
	}

	answer, err := s.pipeline.Ask(ctx, req.Question)
	if err != nil {
		s.logger.Error("ask failed: %v", err)
		sendJSONError(w, "failed to answer question", http.StatusInternalServerError)
		return
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, req.Question, answer.Answer, answer.Sources); err != nil {
			s.logger.Warn("answer cache store failed: %v", err)
		}
	}
	s.appendExchange(req.SessionID, req.Question, answer.Answer)

	sendJSON(w, http.StatusOK, AskResponse{
		Answer:          answer.Answer,
		AnswerHTML:      renderAnswerHTML(answer.Answer),
		SourceURLs:      answer.Sources,
		SessionID:       req.SessionID,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	})
}

// handleAskStream answers a question over SSE: a metadata event with the
// session id, message events carrying answer tokens, one source event per
// source URL, then done. Failures emit an error event before done.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := s.decodeAskRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sseEvent(w, flusher, "metadata", map[string]string{"session_id": req.SessionID})

	answer, err := s.pipeline.AskStream(r.Context(), req.Question, func(chunk []byte) {
		sseEvent(w, flusher, "message", map[string]string{"content": string(chunk)})
	})
	if err != nil {
		s.logger.Error("streaming ask failed: %v", err)
		sseEvent(w, flusher, "error", map[string]string{"message": "failed to answer question"})
		sseEvent(w, flusher, "done", nil)
		return
	}

	for _, url := range answer.Sources {
		sseEvent(w, flusher, "source", map[string]string{"url": url})
	}

	s.appendExchange(req.SessionID, req.Question, answer.Answer)
	sseEvent(w, flusher, "done", nil)
}

// decodeAskRequest parses and validates the shared ask request body,
// assigning a fresh session id when the client sent none.
func (s *Server) decodeAskRequest(w http.ResponseWriter, r *http.Request) (AskRequest, bool) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		sendJSONError(w, "question is required", http.StatusBadRequest)
		return req, false
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	return req, true
}

// appendExchange records a question and answer in the session history,
// keeping only the most recent exchanges.
func (s *Server) appendExchange(sessionID, question, answer string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	history := append(s.sessions[sessionID], Exchange{
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now(),
	})
	if len(history) > maxSessionExchanges {
		history = history[len(history)-maxSessionExchanges:]
	}
	s.sessions[sessionID] = history
}

// SessionHistory returns a copy of the exchanges recorded for a session.
func (s *Server) SessionHistory(sessionID string) []Exchange {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	history := s.sessions[sessionID]
	out := make([]Exchange, len(history))
	copy(out, history)
	return out
}

// renderAnswerHTML renders Markdown to sanitized HTML for display.
func renderAnswerHTML(text string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(text))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	rendered := markdown.Render(doc, renderer)

	return string(htmlPolicy.SanitizeBytes(rendered))
}

// sseEvent writes one server-sent event and flushes it.
func sseEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload := "{}"
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return
		}
		payload = string(bytes)
	}

	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func sendJSONError(w http.ResponseWriter, message string, status int) {
	sendJSON(w, status, map[string]string{"error": message})
}
