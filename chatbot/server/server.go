// Package server exposes the chat orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/config"
	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness"
	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/logging"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server owns the gin engine and the underlying http.Server.
type Server struct {
	orchestrator *harness.ChatOrchestrator
	engine       *gin.Engine
	httpServer   *http.Server
	logger       zerolog.Logger

	pacing    atomic.Int64 // time.Duration between SSE frames
	heartbeat time.Duration
}

// New builds the router. Call ListenAndServe to start accepting connections.
func New(cfg config.ServerConfig, orchestrator *harness.ChatOrchestrator, logger zerolog.Logger) *Server {
	s := &Server{
		orchestrator: orchestrator,
		engine:       gin.New(),
		logger:       logger.With().Str("component", "server").Logger(),
		heartbeat:    cfg.HeartbeatInterval,
	}
	s.pacing.Store(int64(cfg.StreamPacing))

	s.engine.Use(gin.Recovery(), logging.GinLogger(logger), cors.New(corsConfig(cfg.CORSOrigins)))
	s.routes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Cache-Control"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func (s *Server) routes() {
	s.engine.GET("/", s.handleWelcome)
	s.engine.GET("/test", s.handleTest)

	api := s.engine.Group("/api")
	api.POST("/refresh_session", s.handleRefreshSession)
	api.GET("/stream", s.handleStream)
	api.POST("/chat", s.handleChat)
	api.GET("/history", s.handleHistory)
	api.DELETE("/session", s.handleDeleteSession)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// SetStreamPacing changes the delay between frames for streams that start afterwards.
func (s *Server) SetStreamPacing(d time.Duration) {
	s.pacing.Store(int64(d))
}

func (s *Server) streamPacing() time.Duration {
	return time.Duration(s.pacing.Load())
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, lets in-flight streams persist their turn and
// then closes remaining connections.
func (s *Server) Shutdown(ctx context.Context) error {
	orchErr := s.orchestrator.Shutdown(ctx)
	httpErr := s.httpServer.Shutdown(ctx)
	return errors.Join(orchErr, httpErr)
}
