package events

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Server exposes the broadcaster over a websocket endpoint at /events
type Server struct {
	broadcaster *Broadcaster
	server      *http.Server
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

// ServerConfig holds event server configuration
type ServerConfig struct {
	Host        string
	Port        int
	Broadcaster *Broadcaster
	Logger      zerolog.Logger
}

// NewServer creates the event stream server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}

	s := &Server{
		broadcaster: cfg.Broadcaster,
		logger:      cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}
	return s, nil
}

// Start begins serving in a background goroutine
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Event server failed")
		}
	}()
	s.logger.Info().Str("addr", s.server.Addr).Msg("Event stream server started")
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		_ = conn.Close()
		return
	}

	s.broadcaster.Subscribe(id, conn)
	s.logger.Info().Str("subscriber", id).Str("remote", r.RemoteAddr).Msg("Event subscriber connected")

	// the read loop only detects disconnects; subscribers never send data
	go func() {
		defer func() {
			s.broadcaster.Unsubscribe(id)
			_ = conn.Close()
			s.logger.Info().Str("subscriber", id).Msg("Event subscriber disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
