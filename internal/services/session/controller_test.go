package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tglink/internal/clients/frappe"
	"tglink/internal/domain/models"
)

type linkCall struct {
	Email          string
	TelegramUserID string
}

type fakeBackend struct {
	mu        sync.Mutex
	loginErr  error
	updateErr error
	logins    []models.Credentials
	updates   []linkCall

	onLogin  func()
	onUpdate func()
}

func (b *fakeBackend) Login(_ context.Context, email, password string) error {
	if b.onLogin != nil {
		b.onLogin()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.logins = append(b.logins, models.Credentials{Email: email, Password: password})
	return b.loginErr
}

func (b *fakeBackend) UpdateTelegramUserID(_ context.Context, email, id string) error {
	if b.onUpdate != nil {
		b.onUpdate()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.updates = append(b.updates, linkCall{Email: email, TelegramUserID: id})
	return b.updateErr
}

func (b *fakeBackend) Logins() []models.Credentials {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Credentials(nil), b.logins...)
}

func (b *fakeBackend) Updates() []linkCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]linkCall(nil), b.updates...)
}

type fakeRuntime struct {
	id     string
	closes atomic.Int32
}

func (r *fakeRuntime) UserID() (string, bool) { return r.id, r.id != "" }
func (r *fakeRuntime) Close()                 { r.closes.Add(1) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LinkEvent
}

func (p *recordingPublisher) PublishLink(_ context.Context, e models.LinkEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func transportErr(op string) error {
	return fmt.Errorf("%s: %w", op, &url.Error{Op: "Post", URL: "http://erp.local", Err: errors.New("connection refused")})
}

func newController(t *testing.T, backend *fakeBackend, rt *fakeRuntime, opts ...Option) (*Controller, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	opts = append([]Option{WithClock(mock)}, opts...)

	var c *Controller
	if rt == nil {
		c = New(discardLogger(), backend, backend, nil, opts...)
	} else {
		c = New(discardLogger(), backend, backend, rt, opts...)
	}
	t.Cleanup(c.Close)

	return c, mock
}

func TestSubmit_LoginAndLink(t *testing.T) {
	backend := &fakeBackend{}
	rt := &fakeRuntime{id: "279058397"}
	c, _ := newController(t, backend, rt)

	var duringUpdate models.SessionState
	backend.onUpdate = func() { duringUpdate = c.State() }

	st, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)

	require.NotNil(t, st.LoggedInUser)
	assert.Equal(t, "a@b.com", *st.LoggedInUser)
	assert.Equal(t, models.MessageNotificationEnabled, st.Message)
	assert.True(t, st.ShowConfirmation)
	assert.Equal(t, models.PhaseLinked, st.Phase)
	assert.False(t, st.Submitting)

	assert.Equal(t, models.MessageLoginSuccessful, duringUpdate.Message)
	assert.Equal(t, "a@b.com", duringUpdate.User())

	assert.Equal(t, []models.Credentials{{Email: "a@b.com", Password: "secret"}}, backend.Logins())
	assert.Equal(t, []linkCall{{Email: "a@b.com", TelegramUserID: "279058397"}}, backend.Updates())
}

func TestSubmit_InvalidCredentials(t *testing.T) {
	backend := &fakeBackend{loginErr: fmt.Errorf("frappe.Login: %w (status 401)", frappe.ErrInvalidCredentials)}
	rt := &fakeRuntime{id: "1"}
	c, _ := newController(t, backend, rt)

	st, err := c.Submit(context.Background(), models.Credentials{Email: gofakeit.Email(), Password: gofakeit.Password(true, true, true, false, false, 10)})
	require.NoError(t, err)

	assert.Nil(t, st.LoggedInUser)
	assert.False(t, st.IsLoggedIn())
	assert.Equal(t, models.MessageInvalidCredentials, st.Message)
	assert.Equal(t, models.PhaseAuthFailed, st.Phase)
	assert.False(t, st.ShowConfirmation)
	assert.Empty(t, backend.Updates())
	assert.False(t, c.ClosePending())
}

func TestSubmit_LoginTransportError(t *testing.T) {
	backend := &fakeBackend{loginErr: transportErr("frappe.Login")}
	c, _ := newController(t, backend, &fakeRuntime{id: "1"})

	st, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)

	assert.Nil(t, st.LoggedInUser)
	assert.Equal(t, "Error during login: connection refused", st.Message)
	assert.Empty(t, backend.Updates())
}

func TestSubmit_LoginDecodeError(t *testing.T) {
	backend := &fakeBackend{loginErr: fmt.Errorf("frappe.Login: decode response: %w", errors.New("unexpected EOF"))}
	c, _ := newController(t, backend, &fakeRuntime{id: "1"})

	st, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)

	assert.Nil(t, st.LoggedInUser)
	assert.Equal(t, "Error during login: unexpected EOF", st.Message)
	assert.Empty(t, backend.Updates())
}

func TestSubmit_EmptyFields(t *testing.T) {
	tests := []models.Credentials{
		{Email: "", Password: "secret"},
		{Email: "a@b.com", Password: ""},
		{},
	}

	for _, creds := range tests {
		backend := &fakeBackend{}
		c, _ := newController(t, backend, &fakeRuntime{id: "1"})

		st, err := c.Submit(context.Background(), creds)
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, models.PhaseUnauthenticated, st.Phase)
		assert.Empty(t, backend.Logins())
	}
}

func TestReadPlatformIdentifier_RuntimeAbsent(t *testing.T) {
	backend := &fakeBackend{}
	c, mock := newController(t, backend, nil)

	assert.Equal(t, models.MessageRuntimeUnavailable, c.State().Message)
	assert.Empty(t, c.TelegramUserID())

	st, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)

	assert.Equal(t, []linkCall{{Email: "a@b.com", TelegramUserID: ""}}, backend.Updates())
	assert.True(t, st.ShowConfirmation)
	assert.False(t, c.ClosePending())

	mock.Add(10 * time.Second)
}

func TestReadPlatformIdentifier_NoUser(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newController(t, backend, &fakeRuntime{})

	assert.Empty(t, c.State().Message)
	assert.Empty(t, c.TelegramUserID())

	_, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, []linkCall{{Email: "a@b.com", TelegramUserID: ""}}, backend.Updates())
}

func TestReadPlatformIdentifier_Once(t *testing.T) {
	rt := &fakeRuntime{id: "1"}
	c, _ := newController(t, &fakeBackend{}, rt)

	rt.id = "2"
	c.linker.ReadPlatformIdentifier()

	assert.Equal(t, "1", c.TelegramUserID())
}

func TestPushIdentifier_ClosesAfterDelay(t *testing.T) {
	rt := &fakeRuntime{id: "1"}
	c, mock := newController(t, &fakeBackend{}, rt)

	_, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)
	require.True(t, c.ClosePending())

	mock.Add(2999 * time.Millisecond)
	assert.Equal(t, int32(0), rt.closes.Load())
	assert.True(t, c.ClosePending())

	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return rt.closes.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, c.ClosePending())
}

func TestPushIdentifier_CustomDelay(t *testing.T) {
	rt := &fakeRuntime{id: "1"}
	c, mock := newController(t, &fakeBackend{}, rt, WithCloseDelay(time.Second))

	_, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return rt.closes.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPushIdentifier_Failures(t *testing.T) {
	tests := []struct {
		name      string
		updateErr error
		message   string
	}{
		{
			name:      "rejected",
			updateErr: fmt.Errorf("frappe.UpdateTelegramUserID: %w (status 403)", frappe.ErrUpdateRejected),
			message:   models.MessageUpdateFailed,
		},
		{
			name:      "transport",
			updateErr: transportErr("frappe.UpdateTelegramUserID"),
			message:   "Error updating Telegram User ID: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &fakeRuntime{id: "1"}
			c, mock := newController(t, &fakeBackend{updateErr: tt.updateErr}, rt)

			st, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
			require.NoError(t, err)

			assert.Equal(t, "a@b.com", st.User())
			assert.Equal(t, tt.message, st.Message)
			assert.False(t, st.ShowConfirmation)
			assert.Equal(t, models.PhaseLinkFailed, st.Phase)
			assert.False(t, c.ClosePending())

			mock.Add(time.Minute)
			assert.Equal(t, int32(0), rt.closes.Load())
		})
	}
}

func TestSubmit_ResubmitAfterSuccess(t *testing.T) {
	backend := &fakeBackend{}
	rt := &fakeRuntime{id: "7"}
	c, mock := newController(t, backend, rt)

	creds := models.Credentials{Email: "a@b.com", Password: "secret"}

	_, err := c.Submit(context.Background(), creds)
	require.NoError(t, err)

	mock.Add(time.Second)

	st, err := c.Submit(context.Background(), creds)
	require.NoError(t, err)
	assert.True(t, st.ShowConfirmation)

	assert.Len(t, backend.Logins(), 2)
	assert.Len(t, backend.Updates(), 2)

	// the close keeps the schedule of the first success
	mock.Add(2*time.Second - time.Millisecond)
	assert.Equal(t, int32(0), rt.closes.Load())

	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return rt.closes.Load() == 1 }, time.Second, 5*time.Millisecond)

	mock.Add(time.Minute)
	assert.Equal(t, int32(1), rt.closes.Load())
}

func TestSubmit_FailureAfterSuccessClearsConfirmation(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newController(t, backend, &fakeRuntime{id: "7"})

	_, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)

	backend.mu.Lock()
	backend.loginErr = frappe.ErrInvalidCredentials
	backend.mu.Unlock()

	st, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "wrong"})
	require.NoError(t, err)

	assert.False(t, st.ShowConfirmation)
	assert.Equal(t, models.MessageInvalidCredentials, st.Message)
	assert.Equal(t, "a@b.com", st.User())
}

func TestSubmit_RejectsConcurrentSubmit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	backend := &fakeBackend{}
	backend.onLogin = func() {
		close(entered)
		<-release
	}
	c, _ := newController(t, backend, &fakeRuntime{id: "1"})

	creds := models.Credentials{Email: "a@b.com", Password: "secret"}

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), creds)
		done <- err
	}()

	<-entered
	assert.True(t, c.State().Submitting)
	assert.Equal(t, models.PhaseAuthenticating, c.State().Phase)

	_, err := c.Submit(context.Background(), creds)
	require.ErrorIs(t, err, ErrSubmitInFlight)

	close(release)
	require.NoError(t, <-done)

	assert.Len(t, backend.Logins(), 1)
	assert.False(t, c.State().Submitting)
}

func TestClose_CancelsPendingClose(t *testing.T) {
	rt := &fakeRuntime{id: "1"}
	c, mock := newController(t, &fakeBackend{}, rt)

	_, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)
	require.True(t, c.ClosePending())

	c.Close()
	assert.False(t, c.ClosePending())

	mock.Add(time.Minute)
	assert.Equal(t, int32(0), rt.closes.Load())

	_, err = c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestSubmit_PublishesEvent(t *testing.T) {
	pub := &recordingPublisher{}
	backend := &fakeBackend{}
	c, mock := newController(t, backend, &fakeRuntime{id: "99"}, WithEvents(pub))

	backend.onLogin = func() { mock.Add(150 * time.Millisecond) }

	_, err := c.Submit(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)

	pub.mu.Lock()
	defer pub.mu.Unlock()

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.LinkEvent{
		Email:          "a@b.com",
		TelegramUserID: "99",
		Phase:          models.PhaseLinked,
		DurationMS:     150,
	}, pub.events[0])
}
