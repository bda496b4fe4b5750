// Package session holds the login form state and links the authenticated
// account to the mini-app user.
package session

import (
	"context"
	"errors"
	"time"

	"tglink/internal/domain/models"
)

const DefaultCloseDelay = 3 * time.Second

var (
	ErrInvalidInput   = errors.New("email and password are required")
	ErrSubmitInFlight = errors.New("submit already in flight")
	ErrClosed         = errors.New("session closed")
)

type Authenticator interface {
	Login(ctx context.Context, email, password string) error
}

type IdentityUpdater interface {
	UpdateTelegramUserID(ctx context.Context, email, telegramUserID string) error
}

// LinkPublisher receives one event per finished submit.
type LinkPublisher interface {
	PublishLink(ctx context.Context, event models.LinkEvent)
}

type nopPublisher struct{}

func (nopPublisher) PublishLink(context.Context, models.LinkEvent) {}
