package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/loganszeto/phoenixkv/internal/stats"
)

const DefaultReadBufferSize = 4096

type Options struct {
	Addr string
	// ReadBufferSize bounds one request; a single Read must carry it whole.
	ReadBufferSize int
	// IdleTimeout closes connections that send nothing for this long. Zero
	// disables it.
	IdleTimeout time.Duration
	Logger      *slog.Logger
	Stats       *stats.Stats
}

type Server struct {
	addr        string
	d           *Dispatcher
	readBuf     int
	idleTimeout time.Duration
	logger      *slog.Logger
	stats       *stats.Stats

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func New(d *Dispatcher, opts Options) *Server {
	s := &Server{
		addr:        opts.Addr,
		d:           d,
		readBuf:     opts.ReadBufferSize,
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger,
		stats:       opts.Stats,
		conns:       make(map[net.Conn]struct{}),
	}
	if s.readBuf <= 0 {
		s.readBuf = DefaultReadBufferSize
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.stats == nil {
		s.stats = d.Stats()
	}
	return s
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes every live
// connection and waits for their handlers to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	s.logger.Info("listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.shutdown()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.shutdown()
				return err
			}
			s.logger.Warn("accept failed", "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("server stopped")
}
