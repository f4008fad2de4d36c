package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/searchktools/fileserver/config"
	"github.com/searchktools/fileserver/core"
	"github.com/searchktools/fileserver/core/observability"
	"github.com/searchktools/fileserver/core/poller"
	"github.com/searchktools/fileserver/core/pools"
	"github.com/searchktools/fileserver/core/threaded"
)

const instrumentationName = "github.com/searchktools/fileserver"

// Server is what both scheduling models provide
type Server interface {
	Listen() error
	Serve(ctx context.Context) error
	Addr() net.Addr
	Stats() *core.Stats
	Close() error
}

// App is the application instance: one server model plus its telemetry
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *observability.Telemetry
	server    Server
}

// New creates an application instance for cfg
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tel, err := observability.Setup(context.Background(), observability.Config{
		ServiceName:  "fileserver",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     cfg.OTLPInsecure,
		LogLevel:     cfg.Level(),
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{cfg: cfg, logger: tel.Logger, telemetry: tel}
	a.tune()

	server, err := a.buildServer()
	if err != nil {
		tel.Shutdown(context.Background())
		return nil, err
	}
	a.server = server

	return a, nil
}

func (a *App) tune() {
	limit, err := pools.RaiseFileLimit()
	if err != nil {
		a.logger.Warn("could not raise open file limit", "limit", limit, "err", err)
	} else {
		a.logger.Debug("open file limit", "limit", limit)
	}

	pools.ApplyGCConfig(pools.GCConfig{GOGC: a.cfg.GOGC, MemoryLimit: a.cfg.MemoryLimit})
}

func (a *App) buildServer() (Server, error) {
	cfg := a.cfg
	if cfg.Threaded() {
		return threaded.NewServer(threaded.Options{
			Addr:             cfg.Addr,
			Port:             cfg.Port,
			Root:             cfg.Root,
			Workers:          cfg.Workers,
			QueueSize:        cfg.QueueSize,
			ReadBufferSize:   cfg.ReadBufferSize,
			HeaderBufferSize: cfg.HeaderBufferSize,
			ChunkSize:        cfg.ChunkSize,
			ReadTimeout:      cfg.ReadTimeout,
		}, a.logger)
	}

	kind, err := poller.ParseKind(cfg.Model)
	if err != nil {
		return nil, err
	}
	return core.NewEngine(core.Options{
		Addr:             cfg.Addr,
		Port:             cfg.Port,
		Root:             cfg.Root,
		Poller:           kind,
		PoolSize:         cfg.PoolSize,
		ReadBufferSize:   cfg.ReadBufferSize,
		HeaderBufferSize: cfg.HeaderBufferSize,
		ChunkSize:        cfg.ChunkSize,
		Backlog:          cfg.Backlog,
		EventBatch:       cfg.EventBatch,
		WaitTimeout:      cfg.WaitTimeout,
	}, a.logger)
}

// Server returns the selected server model
func (a *App) Server() Server { return a.server }

// Logger returns the application logger
func (a *App) Logger() *slog.Logger { return a.logger }

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("telemetry shutdown", "err", err)
		}
	}()

	if err := a.server.Listen(); err != nil {
		return err
	}

	reg, err := observability.RegisterStats(otel.Meter(instrumentationName), a.server.Stats())
	if err != nil {
		a.logger.Warn("register stats instruments", "err", err)
	} else {
		defer reg.Unregister()
	}

	reporterCtx, stopReporter := context.WithCancel(ctx)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		observability.NewReporter(a.logger, a.server.Stats(), a.cfg.StatsInterval).Run(reporterCtx)
	}()

	a.logger.Info("file server starting",
		"model", a.cfg.Model,
		"addr", a.server.Addr().String(),
		"root", a.cfg.Root)

	err = a.server.Serve(ctx)

	stopReporter()
	<-reporterDone
	a.logger.Info("file server stopped")
	return err
}
