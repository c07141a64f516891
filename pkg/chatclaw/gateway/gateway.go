// Package gateway implements the inbound HTTP server that receives Telegram
// webhook updates and hands them to the dispatcher.
//
// The webhook endpoint always acknowledges with 200 for recoverable errors;
// Telegram retries non-2xx deliveries.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/telegram"
)

// Dispatcher routes one inbound chat message. Satisfied by *bot.Bot.
type Dispatcher interface {
	Dispatch(ctx context.Context, chatID int64, text string) error
}

// Server is the webhook HTTP server.
type Server struct {
	addr       string
	dispatcher Dispatcher
	logger     *slog.Logger
	server     *http.Server
}

// New creates a webhook server.
func New(addr string, dispatcher Dispatcher, logger *slog.Logger) *Server {
	if addr == "" {
		addr = ":8090"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:       addr,
		dispatcher: dispatcher,
		logger:     logger.With("component", "gateway"),
	}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/webhook", s.accessLog(s.handleWebhook))
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("gateway starting", "address", s.addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
		s.logger.Info("gateway stopped")
	}
}

// handleWebhook decodes a Telegram update and dispatches it. Updates without
// a message or text are acknowledged as no-ops.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var update telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.logger.Warn("undecodable webhook payload", "error", err)
		ack(w)
		return
	}

	msg := update.Message
	if msg == nil || msg.Text == "" {
		ack(w)
		return
	}

	if err := s.dispatcher.Dispatch(r.Context(), msg.Chat.ID, msg.Text); err != nil {
		s.logger.Error("dispatch failed",
			"chat_id", msg.Chat.ID,
			"message_id", msg.MessageID,
			"error", err,
		)
	}
	ack(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// accessLog tags each request with a request id and logs its outcome.
func (s *Server) accessLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		start := time.Now()
		next(w, r)
		s.logger.Debug("request handled",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
