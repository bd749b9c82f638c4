package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stritefax/heelixchat/internal/server"
	"github.com/stritefax/heelixchat/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and watch the inbox directories",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().Bool("no-watch", false, "Do not watch the configured inbox directories")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	noWatch, _ := cmd.Flags().GetBool("no-watch")
	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	logger := a.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var watch server.WatchService
	var w *watcher.Watcher
	if !noWatch {
		inbox := watcher.NewInbox(ctx, a.engine, a.credential, logger)
		w = inbox.NewWatcher(a.cfg.Watch.Directories, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			_ = a.close(context.Background())
			return fmt.Errorf("start watcher: %w", err)
		}
		w.SyncExisting()
		watch = w
	}

	srv := server.NewServer(a.engine, a.store, a.handle, a.cfg, a.configPath, watch, logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	runErr := g.Wait()

	if w != nil {
		w.Stop()
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.close(closeCtx); err != nil {
		logger.Error("index close failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
