package miniapp_server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"tglink/internal/config"
	"tglink/internal/lib/logger/sl"
)

type App struct {
	log    *slog.Logger
	server *http.Server
	cfg    config.HTTPConfig
}

func New(log *slog.Logger, cfg config.HTTPConfig, handler http.Handler) *App {
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelError),
	}

	return &App{
		log:    log,
		cfg:    cfg,
		server: server,
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

// Run blocks until the server is stopped. A clean Stop is not an error.
func (a *App) Run() error {
	const op = "miniapp_server.Run"

	l, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return a.Serve(l)
}

// Serve accepts connections on l until the server is stopped.
func (a *App) Serve(l net.Listener) error {
	const op = "miniapp_server.Serve"

	a.log.Info("HTTP server is running", slog.String("addr", l.Addr().String()), slog.String("op", op))

	if err := a.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop() {
	const op = "miniapp_server.Stop"

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Error("failed to stop HTTP server", sl.Err(err), slog.String("op", op))
	}
}
