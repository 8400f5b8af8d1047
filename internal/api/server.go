// Package api serves the session operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/service"
)

const (
	ServiceName = "every-thing-api"

	readTimeout = 30 * time.Second
	idleTimeout = 120 * time.Second
)

// Server owns the gin engine and the http.Server in front of it.
type Server struct {
	cfg     config.APIConfig
	svc     *service.Service
	log     *zap.Logger
	version string
	engine  *gin.Engine
	server  *http.Server
}

// NewServer builds the router for svc.
func NewServer(cfg config.APIConfig, svc *service.Service, version string, logger *zap.Logger) *Server {
	logger = logger.Named("api")
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{cfg: cfg, svc: svc, log: logger, version: version}
	s.engine = gin.New()
	s.engine.Use(RequestID(), GinZapLogger(logger), Recovery(logger), cors.New(corsConfig(cfg.CORSOrigins)))
	s.routes()

	s.server = &http.Server{
		Addr:        cfg.Addr(),
		Handler:     s.engine,
		ReadTimeout: readTimeout,
		// Login endpoints block for the whole login timeout, so no WriteTimeout.
		IdleTimeout: idleTimeout,
	}
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", requestIDHeader)
	c.ExposeHeaders = []string{requestIDHeader}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func (s *Server) routes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)

	session := s.engine.Group("/api/session")
	session.POST("/login", s.handleLogin)
	session.POST("/cookies/validate", s.handleValidate)
	session.POST("/cookies/inject", s.handleInject)
	session.POST("/cookies/import", s.handleImport)
	session.POST("/oauth", s.handleStartOAuth)
	session.GET("/oauth/:id", s.handleGetTask)
	session.DELETE("/oauth/:id", s.handleCancelTask)
	session.GET("/status", s.handleStatus)
	session.GET("/valid", s.handleValid)
	session.POST("/logout", s.handleLogout)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	return nil
}
