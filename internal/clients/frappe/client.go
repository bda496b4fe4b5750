package frappe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/ratelimit"

	"tglink/internal/lib/logger/sl"
)

const (
	loginPath        = "/api/method/login"
	userResourcePath = "/api/resource/User/"

	AuthorizationHeader = "Authorization"
	RequestIDHeader     = "X-Request-ID"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUpdateRejected     = errors.New("update rejected")
)

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client talks to the resource-management backend. One call per method, no retries.
type Client struct {
	log        *slog.Logger
	httpClient *http.Client
	limiter    ratelimit.Limiter
	cfg        Config
}

type requestIDKey struct{}

// WithRequestID makes outbound calls carry the id of the inbound request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// New builds a Client. A nil httpClient means http.DefaultClient and a nil
// limiter disables pacing.
func New(log *slog.Logger, cfg Config, httpClient *http.Client, limiter ratelimit.Limiter) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if limiter == nil {
		limiter = ratelimit.NewUnlimited()
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		log:        log.With(slog.String("component", "frappe_client")),
		httpClient: httpClient,
		limiter:    limiter,
		cfg:        cfg,
	}
}

type loginRequest struct {
	Usr string `json:"usr"`
	Pwd string `json:"pwd"`
}

type updateUserRequest struct {
	TelegramUserID string `json:"telegram_user_id"`
}

// Login posts the credentials. Any non-2xx answer is ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, email, password string) error {
	const op = "frappe.Login"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, loginPath, loginRequest{Usr: email, Pwd: password}, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		c.log.Debug("login rejected", slog.String("op", op), slog.Int("status", resp.StatusCode))
		return fmt.Errorf("%s: %w (status %d)", op, ErrInvalidCredentials, resp.StatusCode)
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}

	return nil
}

// UpdateTelegramUserID stores the Telegram id on the User resource keyed by email.
func (c *Client) UpdateTelegramUserID(ctx context.Context, email, telegramUserID string) error {
	const op = "frappe.UpdateTelegramUserID"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	header := http.Header{}
	header.Set(AuthorizationHeader, fmt.Sprintf("token %s:%s", c.cfg.APIKey, c.cfg.APISecret))

	path := userResourcePath + url.PathEscape(email)

	resp, err := c.do(ctx, http.MethodPut, path, updateUserRequest{TelegramUserID: telegramUserID}, header)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("update rejected",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return fmt.Errorf("%s: %w (status %d)", op, ErrUpdateRejected, resp.StatusCode)
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, header http.Header) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		req.Header.Set(RequestIDHeader, id)
	}

	c.limiter.Take()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("request failed", slog.String("method", method), slog.String("path", path), sl.Err(err))
		return nil, err
	}

	return resp, nil
}

// Cause strips the op chain and returns the text of the underlying failure,
// e.g. "connection refused", "context deadline exceeded" or a JSON syntax error.
func Cause(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err.Error()
	}

	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err.Error()
		}
		err = inner
	}
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
