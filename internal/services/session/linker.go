package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"tglink/internal/clients/frappe"
	"tglink/internal/domain/models"
	"tglink/internal/lib/logger/sl"
	"tglink/internal/miniapp"
)

// Linker pushes the platform user id to the backend once login succeeded and
// closes the mini-app afterwards.
type Linker struct {
	log        *slog.Logger
	updater    IdentityUpdater
	runtime    miniapp.Runtime
	clock      clock.Clock
	closeDelay time.Duration
	set        func(func(*models.SessionState))

	readOnce       sync.Once
	mu             sync.Mutex
	telegramUserID string
	closeTimer     *clock.Timer
	stopped        bool
}

func newLinker(
	log *slog.Logger,
	updater IdentityUpdater,
	runtime miniapp.Runtime,
	clk clock.Clock,
	closeDelay time.Duration,
	set func(func(*models.SessionState)),
) *Linker {
	return &Linker{
		log:        log,
		updater:    updater,
		runtime:    runtime,
		clock:      clk,
		closeDelay: closeDelay,
		set:        set,
	}
}

// ReadPlatformIdentifier caches the user id from the runtime snapshot. Only
// the first call has any effect.
func (l *Linker) ReadPlatformIdentifier() {
	l.readOnce.Do(func() {
		if l.runtime == nil {
			l.log.Warn("mini-app runtime is not available")
			l.set(func(s *models.SessionState) {
				s.Message = models.MessageRuntimeUnavailable
			})
			return
		}

		id, ok := l.runtime.UserID()
		if !ok {
			l.log.Debug("runtime snapshot has no user id")
			id = ""
		}

		l.mu.Lock()
		l.telegramUserID = id
		l.mu.Unlock()
	})
}

func (l *Linker) TelegramUserID() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.telegramUserID
}

// PushIdentifier stores the cached id on the user keyed by email. Call it only
// after a successful login.
func (l *Linker) PushIdentifier(ctx context.Context, email string) {
	const op = "session.PushIdentifier"

	id := l.TelegramUserID()

	log := l.log.With(
		slog.String("op", op),
		slog.String("email", email),
		slog.String("telegram_user_id", id),
	)

	l.set(func(s *models.SessionState) {
		s.Phase = models.PhaseLinking
	})

	err := l.updater.UpdateTelegramUserID(ctx, email, id)
	switch {
	case err == nil:
		log.Info("telegram user id linked")
		l.set(func(s *models.SessionState) {
			s.Message = models.MessageNotificationEnabled
			s.ShowConfirmation = true
			s.Phase = models.PhaseLinked
		})
		l.scheduleClose()
	case errors.Is(err, frappe.ErrUpdateRejected):
		log.Warn("update rejected", sl.Err(err))
		l.set(func(s *models.SessionState) {
			s.Message = models.MessageUpdateFailed
			s.Phase = models.PhaseLinkFailed
		})
	default:
		log.Error("update failed", sl.Err(err))
		l.set(func(s *models.SessionState) {
			s.Message = models.MessageUpdateErrorPrefix + frappe.Cause(err)
			s.Phase = models.PhaseLinkFailed
		})
	}
}

// scheduleClose arms the close timer. Once armed, it fires CloseDelay after
// the success that armed it; later successes do not move it.
func (l *Linker) scheduleClose() {
	if l.runtime == nil {
		l.log.Warn("no runtime to close")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}

	if l.closeTimer != nil {
		l.log.Debug("close already scheduled")
		return
	}

	var timer *clock.Timer
	timer = l.clock.AfterFunc(l.closeDelay, func() {
		l.mu.Lock()
		if l.stopped || l.closeTimer != timer {
			l.mu.Unlock()
			return
		}
		l.closeTimer = nil
		l.mu.Unlock()

		l.log.Info("closing mini-app")
		l.runtime.Close()
	})
	l.closeTimer = timer
}

// ClosePending reports whether a close is scheduled and has not fired.
func (l *Linker) ClosePending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.closeTimer != nil
}

// stop cancels a pending close and prevents new ones.
func (l *Linker) stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	if l.closeTimer == nil {
		return false
	}

	stopped := l.closeTimer.Stop()
	l.closeTimer = nil

	return stopped
}
