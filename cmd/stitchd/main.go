// stitchd - serves visual checks of a browser, device or desktop over HTTP and WebSocket
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/pagestitch/internal/config"
	"github.com/GriffinCanCode/pagestitch/internal/remote"
	"github.com/GriffinCanCode/pagestitch/internal/server"
	"github.com/GriffinCanCode/pagestitch/internal/session"
)

func main() {
	cfg := config.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := session.FromConfig(ctx, cfg)
	if err != nil {
		slog.Error("failed to open session", "driver", cfg.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			slog.Error("session close error", "error", err)
		}
	}()

	// Optionally serve the local comparator to other stitchd instances
	var grpcStop func()
	if cfg.ComparatorListen != "" {
		lis, err := net.Listen("tcp", cfg.ComparatorListen)
		if err != nil {
			slog.Error("failed to listen for comparator", "addr", cfg.ComparatorListen, "error", err)
			os.Exit(1)
		}
		gs := remote.NewServer(session.LocalComparator(cfg))
		grpcStop = gs.GracefulStop
		go func() {
			slog.Info("comparator server starting", "grpc", cfg.ComparatorListen)
			if err := gs.Serve(lis); err != nil {
				slog.Error("comparator server error", "error", err)
			}
		}()
	}

	srv := server.New(ctx, sess, cfg)

	// Full-page checks can poll for the whole match timeout
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.MatchTimeout + 30*time.Second,
	}

	go func() {
		slog.Info("stitchd starting", "http", cfg.HTTPAddr, "driver", cfg.Driver, "platform", cfg.Platform)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	if grpcStop != nil {
		grpcStop()
	}
	slog.Info("shutdown complete")
}
