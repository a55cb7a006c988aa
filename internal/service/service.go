package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdfbaba/pdfbaba/internal/lifecycle"
	"github.com/pdfbaba/pdfbaba/internal/model"
	"github.com/pdfbaba/pdfbaba/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the HTTP server and the retention sweeper until ctx is
// cancelled.
func Serve(ctx context.Context, cfg model.Config) error {
	if cfg.Version != 0 {
		return fmt.Errorf("config version %d is not supported, expected 0", cfg.Version)
	}
	pipeline, err := lifecycle.FromConfig(cfg)
	if err != nil {
		return err
	}
	retention, err := cfg.RetentionWindow()
	if err != nil {
		return fmt.Errorf("retention.window: %w", err)
	}
	requestTimeout, err := cfg.ServerRequestTimeout()
	if err != nil {
		return fmt.Errorf("server.request_timeout: %w", err)
	}

	registry, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening artifact registry: %w", err)
	}
	defer func() {
		if err := registry.Close(); err != nil {
			slog.ErrorContext(ctx, "closing artifact registry has failed", "error", err)
		}
	}()

	sweeper, err := NewSweeper(ctx, registry, cfg.RetentionSweep())
	if err != nil {
		return err
	}

	server := NewServer(pipeline, registry, Options{
		Retention:      retention,
		MaxUpload:      cfg.ServerMaxUpload(),
		RequestTimeout: requestTimeout,
	})
	httpServer := &http.Server{
		Addr:              cfg.ServerListen(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
	g.Go(func() error {
		slog.InfoContext(ctx, "listening", "addr", httpServer.Addr, "workspace", cfg.WorkspaceDir())
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
