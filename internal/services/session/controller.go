package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	validation "github.com/go-ozzo/ozzo-validation"

	"tglink/internal/clients/frappe"
	"tglink/internal/domain/models"
	"tglink/internal/lib/logger/sl"
	"tglink/internal/miniapp"
)

// Controller owns the state of one login form and runs the login request.
type Controller struct {
	log    *slog.Logger
	auth   Authenticator
	linker *Linker
	events LinkPublisher
	clock  clock.Clock

	mu     sync.Mutex
	state  models.SessionState
	closed bool
}

type options struct {
	clock      clock.Clock
	closeDelay time.Duration
	events     LinkPublisher
}

type Option func(*options)

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithCloseDelay(d time.Duration) Option {
	return func(o *options) { o.closeDelay = d }
}

func WithEvents(p LinkPublisher) Option {
	return func(o *options) { o.events = p }
}

// New builds a controller and reads the platform identifier from runtime.
// A nil runtime means the page is not running inside the mini-app host.
func New(
	log *slog.Logger,
	auth Authenticator,
	updater IdentityUpdater,
	runtime miniapp.Runtime,
	opts ...Option,
) *Controller {
	o := options{
		clock:      clock.New(),
		closeDelay: DefaultCloseDelay,
		events:     nopPublisher{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller{
		log:    log.With(slog.String("component", "session")),
		auth:   auth,
		events: o.events,
		clock:  o.clock,
		state: models.SessionState{
			Phase: models.PhaseUnauthenticated,
		},
	}

	c.linker = newLinker(c.log, updater, runtime, o.clock, o.closeDelay, c.update)
	c.linker.ReadPlatformIdentifier()

	return c
}

func (c *Controller) State() models.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshot()
}

func (c *Controller) TelegramUserID() string {
	return c.linker.TelegramUserID()
}

// ClosePending reports whether the mini-app is about to be closed.
func (c *Controller) ClosePending() bool {
	return c.linker.ClosePending()
}

// Submit authenticates creds and, on success, links the Telegram user id.
// Outcomes of the network calls are reported through the returned state, not
// the error. The error is only set when nothing was sent.
func (c *Controller) Submit(ctx context.Context, creds models.Credentials) (models.SessionState, error) {
	const op = "session.Submit"

	if err := validateCredentials(creds); err != nil {
		return c.State(), fmt.Errorf("%s: %w: %w", op, ErrInvalidInput, err)
	}

	log := c.log.With(
		slog.String("op", op),
		slog.String("email", creds.Email),
	)

	c.mu.Lock()
	if c.closed {
		st := c.snapshot()
		c.mu.Unlock()
		return st, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if c.state.Submitting {
		st := c.snapshot()
		c.mu.Unlock()
		log.Warn("submit ignored, another one is in flight")
		return st, fmt.Errorf("%s: %w", op, ErrSubmitInFlight)
	}
	c.state.Submitting = true
	c.state.ShowConfirmation = false
	c.state.Phase = models.PhaseAuthenticating
	c.mu.Unlock()

	start := c.clock.Now()

	log.Info("attempting to login user")

	err := c.auth.Login(ctx, creds.Email, creds.Password)
	switch {
	case err == nil:
		log.Info("user logged in")
		email := creds.Email
		c.update(func(s *models.SessionState) {
			s.LoggedInUser = &email
			s.Message = models.MessageLoginSuccessful
			s.Phase = models.PhaseAuthenticated
		})
		c.linker.PushIdentifier(ctx, creds.Email)
	case errors.Is(err, frappe.ErrInvalidCredentials):
		log.Warn("invalid credentials", sl.Err(err))
		c.update(func(s *models.SessionState) {
			s.Message = models.MessageInvalidCredentials
			s.Phase = models.PhaseAuthFailed
		})
	default:
		log.Error("login request failed", sl.Err(err))
		c.update(func(s *models.SessionState) {
			s.Message = models.MessageLoginErrorPrefix + frappe.Cause(err)
			s.Phase = models.PhaseAuthFailed
		})
	}

	c.mu.Lock()
	c.state.Submitting = false
	st := c.snapshot()
	c.mu.Unlock()

	c.events.PublishLink(ctx, models.LinkEvent{
		Email:          creds.Email,
		TelegramUserID: c.linker.TelegramUserID(),
		Phase:          st.Phase,
		DurationMS:     c.clock.Since(start).Milliseconds(),
	})

	return st, nil
}

// Close tears the controller down and cancels a pending mini-app close.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.linker.stop() {
		c.log.Debug("pending close cancelled")
	}
}

func (c *Controller) update(fn func(*models.SessionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn(&c.state)
}

// snapshot copies the state. Callers hold c.mu.
func (c *Controller) snapshot() models.SessionState {
	st := c.state
	if st.LoggedInUser != nil {
		user := *st.LoggedInUser
		st.LoggedInUser = &user
	}
	return st
}

func validateCredentials(creds models.Credentials) error {
	return validation.ValidateStruct(&creds,
		validation.Field(&creds.Email, validation.Required),
		validation.Field(&creds.Password, validation.Required),
	)
}
