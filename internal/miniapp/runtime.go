// Package miniapp models the Telegram mini-app host as an injected capability.
package miniapp

import "sync"

// Runtime is the part of the host runtime the login flow needs: the user id
// from the init snapshot and a way to close the view.
type Runtime interface {
	// UserID returns the platform user id. ok is false when the snapshot
	// carries no user.
	UserID() (id string, ok bool)
	// Close asks the host to close the view. Fire and forget.
	Close()
}

// WebApp is a Runtime backed by validated init data.
type WebApp struct {
	userID  string
	onClose func()
	once    sync.Once
}

var _ Runtime = (*WebApp)(nil)

// NewWebApp builds a runtime for userID. onClose runs at most once.
func NewWebApp(userID string, onClose func()) *WebApp {
	return &WebApp{
		userID:  userID,
		onClose: onClose,
	}
}

func (w *WebApp) UserID() (string, bool) {
	return w.userID, w.userID != ""
}

func (w *WebApp) Close() {
	w.once.Do(func() {
		if w.onClose != nil {
			w.onClose()
		}
	})
}
