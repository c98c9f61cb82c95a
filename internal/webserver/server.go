// Package webserver exposes the event engine over HTTP and WebSocket.
package webserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/nantokaworks/guild-raffle/internal/admin"
	"github.com/nantokaworks/guild-raffle/internal/duel"
	"github.com/nantokaworks/guild-raffle/internal/ledger"
	"github.com/nantokaworks/guild-raffle/internal/session"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"github.com/nantokaworks/guild-raffle/internal/version"
	"go.uber.org/zap"
)

// ChatStatus reports the chat connection state.
type ChatStatus interface {
	IsConnected() bool
	LastError() error
}

type chatHealth struct {
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}

type healthResponse struct {
	Status  string       `json:"status"`
	Build   version.Info `json:"build"`
	Clients int          `json:"ws_clients"`
	// チャット連携が無効な場合はnil
	Chat *chatHealth `json:"chat,omitempty"`
}

// Server serves the REST API and the overlay WebSocket.
type Server struct {
	manager *session.Manager
	duels   *duel.Engine
	admins  *admin.Store
	ledger  ledger.Ledger
	hub     *WSHub
	chat    ChatStatus

	httpServer *http.Server
}

type Options struct {
	Manager *session.Manager
	Duels   *duel.Engine
	Admins  *admin.Store
	Ledger  ledger.Ledger
	Hub     *WSHub
	Chat    ChatStatus
}

func New(opts Options) *Server {
	hub := opts.Hub
	if hub == nil {
		hub = NewWSHub()
	}
	return &Server{
		manager: opts.Manager,
		duels:   opts.Duels,
		admins:  opts.Admins,
		ledger:  opts.Ledger,
		hub:     hub,
		chat:    opts.Chat,
	}
}

func (s *Server) health() healthResponse {
	resp := healthResponse{
		Status:  "ok",
		Build:   version.Get(),
		Clients: s.hub.ClientCount(),
	}
	if s.chat != nil {
		resp.Chat = &chatHealth{Connected: s.chat.IsConnected()}
		if err := s.chat.LastError(); err != nil {
			resp.Chat.LastError = err.Error()
		}
	}
	return resp
}

// corsMiddleware adds CORS headers to HTTP handlers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+userIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}

// Router builds the chi router with every route registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.health())
	})
	r.Get("/ws", s.hub.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(corsMiddleware)

		r.Post("/lottery", s.handleCreateLottery)
		r.Post("/giveaway", s.handleCreateGiveaway)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Get("/{id}", s.handleGetSession)
			r.Post("/{id}/entries", s.handleSubmitEntry)
			r.Post("/{id}/close", s.handleCloseSession)
		})

		r.Route("/duels", func(r chi.Router) {
			r.Post("/", s.handleChallenge)
			r.Get("/{id}", s.handleGetDuel)
			r.Post("/{id}/accept", s.handleAcceptDuel)
		})

		r.Get("/history", s.handleHistory)

		r.Route("/admins", func(r chi.Router) {
			r.Get("/", s.handleListAdmins)
			r.Post("/", s.handleAddAdmin)
			r.Delete("/{identity}", s.handleRemoveAdmin)
		})

		r.Route("/ledger/accounts", func(r chi.Router) {
			r.Post("/", s.handleUpsertAccount)
			r.Get("/{identity}", s.handleGetAccount)
		})
	})

	return r
}

// Start listens on port in the background and starts the WebSocket hub.
func (s *Server) Start(port int) error {
	s.hub.Start()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting web server", zap.Int("port", port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	// Wait briefly to catch immediate binding errors
	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("Failed to start web server", zap.Error(err))
			return fmt.Errorf("failed to start web server on port %d: %w", port, err)
		}
	case <-time.After(100 * time.Millisecond):
	}

	return nil
}

// Shutdown gracefully shuts down the web server
func (s *Server) Shutdown(ctx context.Context) {
	s.hub.Stop()
	if s.httpServer == nil {
		return
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown web server gracefully", zap.Error(err))
	} else {
		logger.Info("Web server shutdown complete")
	}
}
