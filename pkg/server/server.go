// Package server exposes the chat service over HTTP. Chat turns stream as
// server-sent events; chats, messages and titles are plain JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/chat"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
	"github.com/ncolesummers/research-chat-agent/pkg/state"
	"github.com/ncolesummers/research-chat-agent/pkg/storage"
	"github.com/ncolesummers/research-chat-agent/pkg/stream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the HTTP settings
type Config struct {
	Host           string
	Port           int
	DoneSentinel   bool
	AllowedOrigins []string
	// MetricsPort serves /metrics on a separate listener. Zero mounts it on
	// the API mux instead.
	MetricsPort int
}

// Server serves the chat API
type Server struct {
	config       Config
	chats        *chat.Service
	store        domain.ChatStore
	checkpointer state.Checkpointer
	logger       *observability.StructuredLogger

	httpServer    *http.Server
	metricsServer *http.Server
}

// New creates a server. checkpointer may be nil, which disables the
// checkpoint endpoint.
func New(cfg Config, chats *chat.Service, store domain.ChatStore, checkpointer state.Checkpointer) (*Server, error) {
	if chats == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if store == nil {
		return nil, fmt.Errorf("chat store is required")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		config:       cfg,
		chats:        chats,
		store:        store,
		checkpointer: checkpointer,
		logger:       observability.NewStructuredLogger("api_server"),
	}, nil
}

// Handler returns the API routes wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /api/chats", s.handleCreateChat)
	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("GET /api/chats/{id}", s.handleGetChat)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/chats/{id}/title", s.handleRetitle)
	mux.HandleFunc("GET /api/chats/{id}/checkpoint", s.handleCheckpoint)
	mux.HandleFunc("GET /api/checkpoints", s.handleListCheckpoints)
	if s.config.MetricsPort == 0 {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return corsMiddleware(s.config.AllowedOrigins)(mux)
}

// Start listens on the API and metrics ports and serves in the background
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go s.serve(ctx, s.httpServer, listener)
	s.logger.Info(ctx, "API server listening", map[string]interface{}{"addr": listener.Addr().String()})

	if s.config.MetricsPort > 0 {
		metricsAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.MetricsPort)
		ml, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			_ = s.httpServer.Close()
			return fmt.Errorf("metrics listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go s.serve(ctx, s.metricsServer, ml)
		s.logger.Info(ctx, "Metrics server listening", map[string]interface{}{"addr": ml.Addr().String()})
	}
	return nil
}

func (s *Server) serve(ctx context.Context, srv *http.Server, l net.Listener) {
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error(ctx, "HTTP server stopped", err)
	}
}

// Shutdown stops both listeners, waiting for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range []*http.Server{s.httpServer, s.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatStreamRequest struct {
	ChatID     string           `json:"chatId"`
	NewMessage string           `json:"newMessage"`
	Messages   []domain.Message `json:"messages"`
	Mode       string           `json:"mode"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var body chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	req := domain.ChatRequest{
		ChatID:     body.ChatID,
		NewMessage: body.NewMessage,
		Messages:   body.Messages,
		Mode:       body.Mode,
	}
	ctx := r.Context()
	if err := s.chats.Prepare(ctx, &req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	stream.SetHeaders(w.Header())
	w.Header().Set("X-Chat-ID", req.ChatID)
	w.WriteHeader(http.StatusOK)

	out := &clientEmitter{client: ctx, writer: stream.NewWriter(w, stream.WithDoneSentinel(s.config.DoneSentinel))}
	result, err := s.chats.Stream(ctx, req, out)
	fields := map[string]interface{}{
		"chat_id":   req.ChatID,
		"terminal":  string(result.Summary.Terminal),
		"tokens":    result.Summary.Tokens,
		"delivered": result.Summary.Delivered,
	}
	if err != nil {
		s.logger.Error(ctx, "Chat stream ended with error", err, fields)
		return
	}
	s.logger.Info(ctx, "Chat stream complete", fields)
}

// clientEmitter stops writing once the client has gone away. The run
// itself continues on a detached context, so the request context is held
// here rather than taken from Emit.
type clientEmitter struct {
	client context.Context
	writer *stream.Writer
}

func (e *clientEmitter) Emit(ctx context.Context, ev stream.Event) error {
	if err := e.client.Err(); err != nil {
		return err
	}
	return e.writer.Emit(ctx, ev)
}

type createChatRequest struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var body createChatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}
	if body.UserID == "" {
		body.UserID = chat.DefaultUserID
	}

	created, err := s.store.CreateChat(r.Context(), body.UserID, body.Title)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = chat.DefaultUserID
	}
	chats, err := s.store.ListChats(r.Context(), userID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if chats == nil {
		chats = []*domain.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetChat(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteChat removes a chat, its messages and its checkpoint
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID := r.PathValue("id")
	if err := s.store.DeleteChat(ctx, chatID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if s.checkpointer != nil {
		if err := s.checkpointer.Delete(ctx, chatID); err != nil {
			s.logger.Warn(ctx, "Failed to delete checkpoint", map[string]interface{}{
				"chat_id": chatID,
				"error":   err.Error(),
			})
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if messages == nil {
		messages = []*domain.StoredMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleRetitle(w http.ResponseWriter, r *http.Request) {
	title, err := s.chats.Retitle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": title})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.checkpointer == nil {
		writeError(w, http.StatusNotFound, state.ErrCheckpointNotFound)
		return
	}
	snapshot, err := s.checkpointer.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleListCheckpoints lists run checkpoints, newest first. Query
// parameters: chatId and mode (both repeatable), since and until (RFC 3339,
// matched against the run start).
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	filter, err := checkpointFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.checkpointer == nil {
		writeJSON(w, http.StatusOK, []*state.Snapshot{})
		return
	}
	snapshots, err := s.checkpointer.List(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if snapshots == nil {
		snapshots = []*state.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func checkpointFilter(q url.Values) (state.Filter, error) {
	filter := state.Filter{ChatIDs: q["chatId"]}
	for _, m := range q["mode"] {
		mode := domain.Mode(m)
		if mode != domain.ModeSimple && mode != domain.ModeDeepResearch {
			return filter, fmt.Errorf("unknown mode %q", m)
		}
		filter.Modes = append(filter.Modes, mode)
	}
	for key, dst := range map[string]**time.Time{"since": &filter.StartTime, "until": &filter.EndTime} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = &t
	}
	return filter, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrChatNotFound), errors.Is(err, state.ErrCheckpointNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Expose-Headers", "X-Chat-ID")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
