// Package app wires the HTTP surface and owns the server lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"docquery/internal/middleware"
)

type App struct {
	Handler http.Handler
	port    int
}

func New(port int, handler *Handler) *App {
	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/run", middleware.CorrelationID(http.HandlerFunc(handler.Run)))
	mux.Handle("GET /health", middleware.CorrelationID(http.HandlerFunc(handler.Health)))
	mux.Handle("GET /stats", middleware.CorrelationID(http.HandlerFunc(handler.Stats)))
	mux.Handle("GET /{$}", middleware.CorrelationID(http.HandlerFunc(handler.Root)))

	return &App{Handler: mux, port: port}
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
