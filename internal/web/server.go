// Package web serves the bridge's HTTP surface: the JSON chat log, the
// browser and API message posts, the long-poll queue for API clients,
// per-room websocket streams, and the plain-text targets for off-loaded
// long messages.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
	"github.com/tuna/fishroom/internal/store"
)

// Server is the web server bound to one bridge instance.
type Server struct {
	cfg     *config.Config
	client  *broker.Client
	publish bus.PublishFunc
	chatLog *store.ChatLog
	clients *store.APIClientRegistry
	loc     *time.Location

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux
}

// New wires the web server. publish injects posted messages into the
// ingress side of the pipeline.
func New(cfg *config.Config, client *broker.Client, publish bus.PublishFunc, chatLog *store.ChatLog, clients *store.APIClientRegistry) *Server {
	s := &Server{
		cfg:     cfg,
		client:  client,
		publish: publish,
		chatLog: chatLog,
		clients: clients,
		loc:     cfg.Location(),
	}
	// The chat log has always been readable from anywhere; the
	// websocket stream keeps that contract.
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return s
}

// BuildMux creates and caches the HTTP mux with all routes registered.
// Call this before Start when the same routes must be served on an
// additional listener (the tailnet one).
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /robots.txt", s.handleRobots)

	mux.HandleFunc("GET /api/rooms", s.handleRooms)
	mux.HandleFunc("GET /api/log/{room}/{date}", s.handleChatLog)
	mux.HandleFunc("GET /api/messages", s.handleAPIPoll)
	mux.HandleFunc("POST /api/messages/{room}", s.handleAPIPost)
	mux.HandleFunc("POST /messages/{room}", s.handleWebPost)

	mux.HandleFunc("GET /log/{room}/{date}/{id}", s.handleLogText)
	mux.HandleFunc("GET /text/{id}", s.handlePaste)
	mux.HandleFunc("GET /ws/{room}", s.handleStream)

	s.mux = mux
	return mux
}

// Start serves until ctx ends, then drains in-flight requests with a
// short grace period. No write timeout on the server: the long-poll
// endpoint holds its response open for up to pollTimeout.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("web: listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("web: serve: %w", err)
	}
	return nil
}
