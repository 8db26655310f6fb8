package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Start runs the HTTP server and the presence jobs, blocking until an
// interrupt or terminate signal arrives, then drains everything in reverse
// order of startup.
func (s *Server) Start() {
	s.presence.Start()

	go func() {
		if err := s.E.Start(s.Cfg.Addr); err != nil && err != http.ErrServerClosed {
			s.E.Logger.Fatalf("shutting down the server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.Shutdown(ctx)
}

// Shutdown drains the server: stop the background jobs, close the hub so
// push connections end, drain echo, stop the limiter sweep, close the DB.
func (s *Server) Shutdown(ctx context.Context) {
	s.presence.Shutdown()

	if err := s.hub.Shutdown(); err != nil {
		s.E.Logger.Error(err)
	}

	if err := s.E.Shutdown(ctx); err != nil {
		s.E.Logger.Error(err)
	}

	s.limiter.Close()
	s.DB.Close(ctx)
}
