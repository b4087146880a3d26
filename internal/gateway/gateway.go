// Package gateway serves the dispatcher over HTTP: a WebSocket endpoint where
// each message is one command, a Connect RPC endpoint, and health and stats
// probes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"

	"github.com/loganszeto/phoenixkv/internal/server"
	"github.com/loganszeto/phoenixkv/internal/stats"
	"github.com/loganszeto/phoenixkv/internal/store"
)

type Gateway struct {
	d        *server.Dispatcher
	st       store.Store
	stats    *stats.Stats
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(d *server.Dispatcher, st store.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		d:      d,
		st:     st,
		stats:  d.Stats(),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}

func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", g.handleStats)
	mux.HandleFunc("/ws", g.handleWS)
	mux.Handle(ExecuteProcedure, connect.NewUnaryHandler(ExecuteProcedure, g.execute))
	return withLogging(g.logger, mux)
}

// ListenAndServe blocks until ctx is done or the listener fails.
func (g *Gateway) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	g.logger.Info("gateway listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap := g.stats.Snapshot()
	if g.st != nil {
		snap["keys"] = int64(g.st.Len())
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		g.logger.Warn("write stats", "err", err)
	}
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
