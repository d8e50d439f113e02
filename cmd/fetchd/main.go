package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ytget/fetchd/internal/archive"
	"github.com/ytget/fetchd/internal/config"
	"github.com/ytget/fetchd/internal/engine"
	"github.com/ytget/fetchd/internal/httpapi"
	"github.com/ytget/fetchd/internal/logbus"
	"github.com/ytget/fetchd/internal/platform"
	"github.com/ytget/fetchd/internal/store"
)

// shutdownTimeout bounds draining on SIGINT/SIGTERM: running downloads get
// canceled and their runners must finish within this window.
const shutdownTimeout = 30 * time.Second

func main() {
	loadDotEnv()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := run(cfg, logger); err != nil {
		logger.Error("fetchd exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Settings, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := platform.EnsureDir(cfg.DataDir); err != nil {
		return err
	}

	jobStore, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	bus := logbus.New()
	bus.SetBufferSize(cfg.LogBuffer)

	eng := engine.New(
		engine.Config{
			GlobalLimit:     cfg.MaxParallel,
			PerOwnerLimit:   cfg.MaxPerOwner,
			GracePeriod:     cfg.GracePeriod,
			WorkDir:         filepath.Join(cfg.DataDir, "work"),
			DefaultSaveRoot: cfg.SaveRoot,
		},
		bus, jobStore, archive.NewService(),
		engine.WithExecutableResolver(binaryResolver{override: cfg.BinaryPath}),
		engine.WithLogger(logger),
	)

	if err := eng.Rehydrate(ctx); err != nil {
		return err
	}

	api := &httpapi.Server{Jobs: eng, History: jobStore, Logger: logger}
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: api.Router(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("fetchd listening", "addr", cfg.Addr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(drainCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		return eng.Shutdown(drainCtx)
	})

	return g.Wait()
}

// binaryResolver resolves the downloader executable, honoring the FETCHD_BIN
// override.
type binaryResolver struct {
	override string
}

func (r binaryResolver) ResolveExecutablePath() (string, error) {
	return platform.ResolveExecutablePath(r.override)
}

// loadDotEnv walks up from the working directory looking for a .env file
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
