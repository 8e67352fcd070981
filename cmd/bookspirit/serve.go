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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/ashureev/bookspirit/internal/api"
	"github.com/ashureev/bookspirit/internal/identity"
	"github.com/ashureev/bookspirit/internal/middleware"
	"github.com/ashureev/bookspirit/internal/rpc"
	"github.com/ashureev/bookspirit/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, WebSocket and gRPC dialog server",
	Long: `Run the dialog server.

HTTP routes:
  POST /api/dialog/messages  send one message, get one reply
  GET  /api/context          current reading context snapshot
  POST /api/plans            save an accepted reading plan
  GET  /ws/dialog            WebSocket chat with server-side history
  GET  /health               database and feature status
  GET  /ping                 liveness

The gRPC Dialog service and the standard health service listen on GRPC_PORT.
Set GRPC_PORT to an empty string to disable it.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()
	registry := ws.NewRegistry()

	healthHandler := api.NewHealthHandler(a.repo, api.Features{RAG: cfg.CozeEnabled(), AI: cfg.AIEnabled()}, cfg.ContextTimeout)
	dialogHandler := api.NewDialogHandler(a.engine, a.repo, api.DialogConfig{
		MaxBodyBytes: cfg.MaxRequestBytes,
		Limiter:      limiter,
	}, logger)
	wsHandler := ws.NewHandler(a.engine, registry, cfg.AllowedOrigins, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	healthHandler.RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(a.repo, cfg.IsDevelopment()))
		dialogHandler.RegisterRoutes(r)
		r.Get("/ws/dialog", wsHandler.ServeHTTP)
	})

	// No WriteTimeout: WebSocket connections are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 2)
	var grpcSrv *grpc.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcSrv = rpc.NewServer(a.engine, logger)
		go func() {
			logger.Info("gRPC server listening", "addr", lis.Addr().String())
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("Server failed", "error", runErr)
	}
	stop()

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	registry.CloseAll()
	if grpcSrv != nil {
		gracefulStop(shutdownCtx, grpcSrv)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return errors.Join(runErr, err)
	}

	logger.Info("Server stopped successfully")
	return runErr
}

// gracefulStop waits for in-flight RPCs until ctx expires, then forces the stop.
func gracefulStop(ctx context.Context, srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
		<-done
	}
}
