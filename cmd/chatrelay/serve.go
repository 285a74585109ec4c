package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/chatrelay/internal/api"
	"github.com/ashureev/chatrelay/internal/auth"
	"github.com/ashureev/chatrelay/internal/config"
	"github.com/ashureev/chatrelay/internal/fallback"
	"github.com/ashureev/chatrelay/internal/gateway"
	"github.com/ashureev/chatrelay/internal/health"
	"github.com/ashureev/chatrelay/internal/messaging"
	"github.com/ashureev/chatrelay/internal/presence"
	"github.com/ashureev/chatrelay/internal/store"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP and WebSocket server",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level, _ := cfg.SlogLevel()
			return serve(c.Context, cfg, newLogger(level))
		},
	}
}

//nolint:gocognit,gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store_driver", cfg.StoreDriver)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(parent); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	logger.Info("Database connected", "path", cfg.DBPath)

	var messages store.ConversationStore = repo
	if cfg.StoreDriver == config.DriverBadger {
		msgLog, err := store.NewBadger(cfg.BadgerDir, logger)
		if err != nil {
			return fmt.Errorf("initialize message log: %w", err)
		}
		defer func() {
			if closeErr := msgLog.Close(); closeErr != nil {
				logger.Error("Failed to close message log", "error", closeErr)
			}
		}()
		messages = msgLog
		logger.Info("Message log opened", "dir", cfg.BadgerDir)
	}

	var responder fallback.Responder = fallback.Disabled{}
	if cfg.Fallback.URL != "" {
		responder = fallback.NewClient(fallback.Config{
			URL:     cfg.Fallback.URL,
			APIKey:  cfg.Fallback.APIKey,
			Timeout: cfg.Fallback.Timeout,
		}, logger)
		logger.Info("Fallback responder enabled", "url", cfg.Fallback.URL, "timeout", cfg.Fallback.Timeout)
	} else {
		logger.Info("Fallback responder disabled (FALLBACK_URL not set)")
	}

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	registry := presence.NewRegistry(repo, logger)
	router := messaging.NewRouter(registry, messages, responder, logger,
		messaging.WithFallbackMessage(cfg.Fallback.Message))

	apiHandler := api.NewHandler(auth.NewService(repo, tokens, logger), registry, router, logger)
	healthHandler := api.NewHealthHandler(repo, registry)
	wsHandler := gateway.NewHandler(registry, router, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	allowedOrigins := []string{cfg.FrontendURL}
	if cfg.IsDevelopment() {
		allowedOrigins = append(allowedOrigins, "*")
	}

	r := newRouter(routes{
		api:            apiHandler,
		health:         healthHandler,
		ws:             wsHandler,
		tokens:         tokens,
		allowedOrigins: allowedOrigins,
	})

	// No WriteTimeout: WebSocket connections are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.GRPCHealthAddr, err)
		}
		hs := health.NewServer(repo, 0, logger)
		go func() {
			if err := hs.Serve(ctx, lis); err != nil {
				errChan <- err
			}
		}()
	}

	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errChan:
		return err
	}
	stop()

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	wsHandler.CloseAll("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped successfully")
	return nil
}
