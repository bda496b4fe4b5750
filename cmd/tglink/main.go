package main

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tglink/internal/app"
	"tglink/internal/config"
	"tglink/internal/lib/logger/handlers/slogpretty"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env, cfg.LogFile)
	log.Info("starting application",
		slog.String("env", cfg.Env),
		slog.String("addr", cfg.HTTP.Addr),
		slog.String("api_url", cfg.API.URL),
	)

	if cfg.Telegram.BotToken == "" {
		log.Warn("TELEGRAM_BOT_TOKEN is not set, init data is trusted unsigned and the login widget is disabled")
	}

	application := app.MustNew(log, cfg)

	application.ExpiredSessionsWorker.Start()
	go application.HTTPServer.MustRun()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	sign := <-stop
	log.Info("stopping application", slog.String("signal", sign.String()))

	application.Stop()
	log.Info("application stopped")
}

func setupLogger(env, logFile string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envDev:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource: true,
			Level:     slog.LevelDebug,
		}))
	case envProd:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	default:
		log = setupPrettySlog(logFile)
	}

	return log
}

func setupPrettySlog(logFile string) *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	var file io.Writer
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			panic(err)
		}
		file = f
	}

	handler := opts.NewPrettyHandler(os.Stdout, file)

	return slog.New(handler)
}
