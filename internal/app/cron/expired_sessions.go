package cron

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type SessionSweeper interface {
	DeleteExpired() int
}

// ExpiredSessionsWorker periodically drops sessions whose TTL ran out, which
// also cancels any mini-app close they still had pending.
type ExpiredSessionsWorker struct {
	log       *slog.Logger
	sweeper   SessionSweeper
	interval  time.Duration
	clock     clock.Clock
	stopCh    chan struct{}
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
}

func NewExpiredSessionsWorker(
	log *slog.Logger,
	sweeper SessionSweeper,
	interval time.Duration,
	clk clock.Clock,
) *ExpiredSessionsWorker {
	if clk == nil {
		clk = clock.New()
	}

	return &ExpiredSessionsWorker{
		log:      log.With(slog.String("component", "expired_sessions_worker")),
		sweeper:  sweeper,
		interval: interval,
		clock:    clk,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the worker in the background. Calling it twice is a no-op.
func (w *ExpiredSessionsWorker) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()

	w.log.Info("expired sessions worker started", slog.Duration("interval", w.interval))
}

// Stop signals the worker and waits for it to return.
func (w *ExpiredSessionsWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()

	w.log.Info("expired sessions worker stopped")
}

func (w *ExpiredSessionsWorker) run() {
	defer w.wg.Done()

	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *ExpiredSessionsWorker) sweep() {
	if n := w.sweeper.DeleteExpired(); n > 0 {
		w.log.Info("expired sessions removed", slog.Int("count", n))
	}
}
