package miniapp

import (
	"errors"
	"fmt"
	"strconv"

	telegramloginwidget "github.com/LipsarHQ/go-telegram-login-widget"
)

var ErrWidgetDisabled = errors.New("login widget requires a bot token")

// FromLoginWidget builds a runtime from a Telegram Login Widget redirect URI.
// Outside the mini-app there is no view to close, so onClose is what ends the
// session.
func FromLoginWidget(uri, botToken string, onClose func()) (*WebApp, error) {
	const op = "miniapp.FromLoginWidget"

	if botToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrWidgetDisabled)
	}

	data, err := telegramloginwidget.NewFromURI(uri)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidInitData, err)
	}

	if err := data.Check(botToken); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrHashMismatch, err)
	}

	return NewWebApp(strconv.FormatInt(data.ID, 10), onClose), nil
}
