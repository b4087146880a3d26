package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loganszeto/phoenixkv/internal/config"
	"github.com/loganszeto/phoenixkv/internal/gateway"
	"github.com/loganszeto/phoenixkv/internal/reaper"
	"github.com/loganszeto/phoenixkv/internal/server"
	"github.com/loganszeto/phoenixkv/internal/stats"
	"github.com/loganszeto/phoenixkv/internal/store"
	"github.com/loganszeto/phoenixkv/internal/util"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, then the -config file, then any flag that was
// set explicitly.
func loadConfig(args []string) (*config.Config, error) {
	def := config.DefaultConfig()
	fs := flag.NewFlagSet("kv-server", flag.ContinueOnError)
	file := fs.String("config", "", "path to a JSON config file")
	addr := fs.String("addr", def.Addr, "address to bind")
	port := fs.Int("port", def.Port, "port to bind")
	username := fs.String("username", "", "username (carried, not enforced)")
	password := fs.String("password", "", "password (carried, not enforced)")
	debug := fs.Bool("debug", false, "debug logging with source locations")
	logLevel := fs.String("log_level", def.LogLevel, "log level: error, warn, info, debug, trace")
	reaperEvery := fs.Duration("reaper_interval", def.ReaperInterval.Std(), "how often expired keys are evicted")
	idle := fs.Duration("idle_timeout", 0, "close connections idle this long (0 disables)")
	readBuf := fs.Int("read_buffer", def.ReadBuffer, "bytes per request read")
	httpAddr := fs.String("http_addr", "", "HTTP gateway address (empty disables)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &def
	if *file != "" {
		loaded, err := config.Load(*file)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var override config.Config
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			override.Addr = *addr
		case "port":
			override.Port = *port
		case "username":
			override.Username = *username
		case "password":
			override.Password = *password
		case "debug":
			override.Debug = *debug
		case "log_level":
			override.LogLevel = *logLevel
		case "reaper_interval":
			override.ReaperInterval = util.Duration(*reaperEvery)
		case "idle_timeout":
			override.IdleTimeout = util.Duration(*idle)
		case "read_buffer":
			override.ReadBuffer = *readBuf
		case "http_addr":
			override.HTTPAddr = *httpAddr
		}
	})
	cfg.Merge(&override)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st := store.NewStore(store.Options{})
	counters := stats.New()
	d := server.NewDispatcher(st, server.DispatcherOptions{Stats: counters, Logger: logger})

	srv := server.New(d, server.Options{
		Addr:           cfg.Address(),
		ReadBufferSize: cfg.ReadBuffer,
		IdleTimeout:    cfg.IdleTimeout.Std(),
		Logger:         logger,
		Stats:          counters,
	})
	r := reaper.New(st, reaper.Options{
		Interval: cfg.ReaperInterval.Std(),
		Logger:   logger.With("component", "reaper"),
		Stats:    counters,
	})

	if cfg.Username != "" {
		logger.Warn("credentials are configured but not enforced", "username", cfg.Username)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	g.Go(func() error {
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.HTTPAddr != "" {
		gw := gateway.New(d, st, logger.With("component", "gateway"))
		g.Go(func() error {
			return gw.ListenAndServe(ctx, cfg.HTTPAddr)
		})
	}

	logger.Info("phoenixkv starting", "addr", cfg.Address(), "reaper_interval", cfg.ReaperInterval.Std(), "http_addr", cfg.HTTPAddr)
	start := time.Now()
	err := g.Wait()
	logger.Info("phoenixkv stopped", "uptime", time.Since(start).Round(time.Second), "stats", counters.Snapshot())
	return err
}
