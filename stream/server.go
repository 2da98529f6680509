package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
)

// Server exposes the hub over HTTP: a /ws websocket endpoint plus a
// trivial health probe.
type Server struct {
	hub    *Hub
	http   *http.Server
	logger *zap.SugaredLogger
}

// NewServer wires the hub to an HTTP listener on the given port. The
// logger may be nil.
func NewServer(hub *Hub, port int, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","clients":%d}`, hub.ClientCount())
	})

	return &Server{
		hub: hub,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: log,
	}
}

// Start runs the hub and begins serving. The listener runs in a
// background goroutine; fatal listen errors are logged, not returned.
func (s *Server) Start() {
	s.hub.Run()
	go func() {
		s.logger.Infow("Stream server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("Stream server failed", "error", err)
		}
	}()
}

// Shutdown drains the HTTP server then stops the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.hub.Stop()
	if err != nil {
		return errors.Wrap(err, "failed to shut down stream server")
	}
	return nil
}
