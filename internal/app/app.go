package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/scopechat-server/internal/config"
	"github.com/vovakirdan/scopechat-server/internal/core"
	"github.com/vovakirdan/scopechat-server/internal/script"
	"github.com/vovakirdan/scopechat-server/internal/store"
	"github.com/vovakirdan/scopechat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/scopechat-server/internal/transport/http"
	"github.com/vovakirdan/scopechat-server/internal/transport/tcp"
)

// App wires together core and transport layers.
type App struct {
	tcp             *tcp.Server
	admin           *stdhttp.Server
	adminListener   net.Listener
	shutdownTimeout time.Duration
	router          *core.Router
	store           store.ChannelStore
	log             *zerolog.Logger
}

// New constructs the application with provided configuration. Listeners are
// bound here so that address errors surface before Run.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}

	if cfg.DatabasePath != "" {
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.store = st
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")
	}

	engine := script.NewRecorder(logger)
	configureSearchPaths(engine, cfg.SearchPathsFile, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router, err := core.NewRouter(engine, a.store, core.RouterConfig{
		DefaultChannel:  cfg.DefaultChannel,
		InjectTimeout:   cfg.InjectTimeout,
		InjectQueueSize: cfg.InjectQueueSize,
		Registerer:      reg,
	}, logger)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("init router: %w", err)
	}
	a.router = router

	if err := router.Restore(ctx); err != nil {
		a.cleanup()
		return nil, err
	}

	a.tcp, err = tcp.Listen(cfg.Addr, router, tcp.Options{
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		SendQueueSize:    cfg.SendQueueSize,
		MaxFrameSize:     cfg.MaxFrameSize,
	}, logger)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	if cfg.AdminAddr != "" {
		l, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			_ = a.tcp.Close()
			a.cleanup()
			return nil, fmt.Errorf("listen admin %s: %w", cfg.AdminAddr, err)
		}
		a.adminListener = l
		a.admin = transporthttp.NewServer(router, reg, cfg, logger)
	}

	return a, nil
}

func configureSearchPaths(engine script.Engine, path string, logger *zerolog.Logger) {
	if path == "" {
		return
	}
	paths, err := script.LoadSearchPaths(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("path", path).Msg("search paths file not found, using engine defaults")
		} else {
			logger.Warn().Err(err).Str("path", path).Msg("failed to load search paths")
		}
		return
	}
	engine.ConfigureSearchPaths(paths)
	logger.Info().Int("count", len(paths)).Str("path", path).Msg("search paths configured")
}

// Addr returns the chat listener's address.
func (a *App) Addr() net.Addr {
	return a.tcp.Addr()
}

// AdminAddr returns the admin listener's address, or nil when disabled.
func (a *App) AdminAddr() net.Addr {
	if a.adminListener == nil {
		return nil
	}
	return a.adminListener.Addr()
}

// Run starts the servers and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.tcp.Serve(gctx)
	})

	if a.admin != nil {
		group.Go(func() error {
			a.log.Info().Str("addr", a.adminListener.Addr().String()).Msg("admin server started")
			if err := a.admin.Serve(a.adminListener); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
			defer cancel()

			a.log.Info().Msg("shutting down admin server")
			return a.admin.Shutdown(shutdownCtx)
		})
	}

	return group.Wait()
}

// cleanup stops injection workers and closes the database.
func (a *App) cleanup() {
	if a.router != nil {
		a.router.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
