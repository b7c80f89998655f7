// Package api exposes the collector's admin HTTP surface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/collector"
	"github.com/user/price-tracker/internal/config"
	"github.com/user/price-tracker/internal/storage"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	loop       *collector.Loop
	pgStore    *storage.PostgresStore
	redisStore *storage.RedisStore
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, loop *collector.Loop, ps *storage.PostgresStore, rs *storage.RedisStore, l *zap.Logger) *Server {
	s := &Server{
		config:     cfg,
		loop:       loop,
		pgStore:    ps,
		redisStore: rs,
		logger:     l,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
