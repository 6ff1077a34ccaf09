// Package api exposes the experimentation engine over REST plus a WebSocket
// event stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/expflow/internal/engine"
	"github.com/ajitpratap0/expflow/internal/events"
)

// Server is the REST API server
type Server struct {
	router    *gin.Engine
	framework *engine.Framework
	stream    *events.MemorySink
	hub       *Hub
	addr      string
	server    *http.Server
	startTime time.Time
}

// Config contains server configuration
type Config struct {
	Host      string
	Port      int
	Framework *engine.Framework
	// Stream is the sink whose events the WebSocket endpoint relays;
	// nil disables the endpoint
	Stream *events.MemorySink
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router:    router,
		framework: config.Framework,
		stream:    config.Stream,
		addr:      fmt.Sprintf("%s:%d", config.Host, config.Port),
		startTime: time.Now(),
	}
	if s.stream != nil {
		s.hub = NewHub()
	}
	s.setupRoutes()
	return s
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and, when a stream is configured, the
// WebSocket hub relaying framework events
func (s *Server) Start() error {
	if s.hub != nil {
		go s.hub.Run()
		s.stream.Subscribe(func(ev *events.Event) {
			s.hub.BroadcastEvent(ev)
		})
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logEvent := log.Info()
		if statusCode >= 500 {
			logEvent = log.Error()
		} else if statusCode >= 400 {
			logEvent = log.Warn()
		}
		logEvent.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("Request")
	}
}
