// Package transport serves the subscriber-facing HTTP surface: the
// JSON-RPC 2.0 WebSocket endpoint, health and metrics.
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/scanner"
	"go.uber.org/zap"
)

type (
	// Store is the query/admin surface the facade consumes.
	Store interface {
		ListActiveTips(ctx context.Context) ([]model.Chaintip, error)
		TopStaleCandidates(ctx context.Context, n int) ([]model.StaleCandidate, error)
		StaleCandidateChildren(ctx context.Context, height int64) ([]model.StaleCandidateChild, error)
		ListOpenLags(ctx context.Context) ([]model.Lag, error)
		InsertNode(ctx context.Context, n model.Node) (int64, error)
		RemoveNode(ctx context.Context, nodeID int64) error
		InsertWatched(ctx context.Context, addresses []string, until time.Time) error
	}
)

// Server hosts the websocket facade next to /metrics and /healthz.
type Server struct {
	addr   string
	store  Store
	hub    *scanner.Hub
	logger *zap.Logger
}

// NewServer constructs a Server.
func NewServer(addr string, store Store, hub *scanner.Hub, logger *zap.Logger) *Server {
	return &Server{addr: addr, store: store, hub: hub, logger: logger}
}

// Handler builds the HTTP routing surface.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.HandleFunc("/ws", s.handleWebsocket)
	return cors.Default().Handler(router)
}

// Run serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down the http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown failed", zap.Error(err))
		}
	}()

	s.logger.Info("starting http server", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
