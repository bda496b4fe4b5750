package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/ratelimit"

	"tglink/internal/app/cron"
	"tglink/internal/app/miniapp_server"
	"tglink/internal/clients/frappe"
	"tglink/internal/config"
	"tglink/internal/domain/models"
	miniapp_http "tglink/internal/http"
	"tglink/internal/lib/kafka"
	"tglink/internal/lib/logger/sl"
	"tglink/internal/lib/ratelimiter"
	"tglink/internal/lib/token"
	"tglink/internal/miniapp"
	"tglink/internal/repository/redis"
	"tglink/internal/repository/sessions"
	"tglink/internal/services/session"
)

const redisConnectTimeout = 5 * time.Second

type App struct {
	log                   *slog.Logger
	HTTPServer            *miniapp_server.App
	ExpiredSessionsWorker *cron.ExpiredSessionsWorker
	Sessions              *sessions.Store[*session.Controller]

	redisRepo *redis.Repository
	producer  *kafka.Producer
}

// New wires the service. Redis and Kafka are optional: without an address
// the attempt store stays in memory and link events are not published.
func New(log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	clk := clock.New()

	var limiter ratelimit.Limiter
	if cfg.API.RequestsPerSecond > 0 {
		limiter = ratelimit.New(cfg.API.RequestsPerSecond)
	}

	api := frappe.New(log, frappe.Config{
		BaseURL:   cfg.API.URL,
		APIKey:    cfg.API.Key,
		APISecret: cfg.API.Secret,
		Timeout:   cfg.API.RequestTimeout,
	}, nil, limiter)

	tokens, err := token.NewIssuer(cfg.Session.Key, cfg.Session.TTL, clk)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a := &App{log: log}

	var attempts ratelimiter.AttemptStore = ratelimiter.NewMemoryStore(clk)
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
		defer cancel()

		log.Info("connecting to redis", slog.String("addr", cfg.Redis.Addr))

		repo, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.redisRepo = repo
		attempts = repo
	}

	loginLimiter := ratelimiter.NewRateLimiter(attempts, cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window, cfg.RateLimit.BlockTime)

	ctrlOpts := []session.Option{
		session.WithClock(clk),
		session.WithCloseDelay(cfg.Telegram.CloseDelay),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		topic := models.Topic(cfg.Kafka.Topic)
		if topic == "" {
			topic = models.LinkTopic
		}

		producer, err := kafka.NewKafkaProducer(log, cfg.Kafka.Brokers, topic)
		if err != nil {
			a.closeBackends()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.producer = producer
		ctrlOpts = append(ctrlOpts, session.WithEvents(producer))
	}

	a.Sessions = sessions.New[*session.Controller](cfg.Session.TTL, clk)

	factory := func(rt miniapp.Runtime) *session.Controller {
		return session.New(log, api, api, rt, ctrlOpts...)
	}

	server := miniapp_http.New(log, miniapp_http.Options{
		BotToken:     cfg.Telegram.BotToken,
		InitDataTTL:  cfg.Telegram.InitDataTTL,
		CloseDelay:   cfg.Telegram.CloseDelay,
		SecureCookie: cfg.Session.SecureCookie,
	}, a.Sessions, tokens, loginLimiter, factory, clk)

	a.HTTPServer = miniapp_server.New(log, cfg.HTTP, server.Routes())
	a.ExpiredSessionsWorker = cron.NewExpiredSessionsWorker(log, a.Sessions, cfg.Session.SweepInterval, clk)

	return a, nil
}

// MustNew is like New but panics on error.
func MustNew(log *slog.Logger, cfg *config.Config) *App {
	a, err := New(log, cfg)
	if err != nil {
		panic(err)
	}
	return a
}

// Stop shuts the HTTP server down first so no request can reach a closed
// session or producer.
func (a *App) Stop() {
	a.HTTPServer.Stop()
	a.ExpiredSessionsWorker.Stop()
	a.Sessions.CloseAll()
	a.closeBackends()
}

func (a *App) closeBackends() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Error("failed to close kafka producer", sl.Err(err))
		}
	}
	if a.redisRepo != nil {
		if err := a.redisRepo.Close(); err != nil {
			a.log.Error("failed to close redis", sl.Err(err))
		}
	}
}
