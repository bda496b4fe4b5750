package miniapp_http

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"

	"tglink/internal/domain/models"
	"tglink/internal/lib/logger/sl"
	"tglink/internal/lib/ratelimiter"
	"tglink/internal/lib/token"
	"tglink/internal/miniapp"
	"tglink/internal/repository"
	"tglink/internal/repository/sessions"
	"tglink/internal/services/session"
	"tglink/pkg/utils"
)

const (
	CookieName    = "tglink_sid"
	maxBodyBytes  = 16 << 10
	callbackRoute = "/callback/telegram/auth"
)

//go:embed web/index.html
var webFS embed.FS

var tplIndex = template.Must(template.ParseFS(webFS, "web/index.html"))

// ControllerFactory builds a session controller around a runtime. A nil
// runtime means the page runs outside the mini-app host.
type ControllerFactory func(rt miniapp.Runtime) *session.Controller

type Options struct {
	BotToken     string
	InitDataTTL  time.Duration
	CloseDelay   time.Duration
	SecureCookie bool
}

type Server struct {
	log      *slog.Logger
	opts     Options
	sessions *sessions.Store[*session.Controller]
	tokens   *token.Issuer
	limiter  *ratelimiter.RateLimiter
	factory  ControllerFactory
	clock    clock.Clock
}

func New(
	log *slog.Logger,
	opts Options,
	store *sessions.Store[*session.Controller],
	tokens *token.Issuer,
	limiter *ratelimiter.RateLimiter,
	factory ControllerFactory,
	clk clock.Clock,
) *Server {
	if clk == nil {
		clk = clock.New()
	}

	return &Server{
		log:      log.With(slog.String("component", "miniapp_http")),
		opts:     opts,
		sessions: store,
		tokens:   tokens,
		limiter:  limiter,
		factory:  factory,
		clock:    clk,
	}
}

// Routes returns the mux wrapped in the middleware chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.IndexHandler)
	mux.HandleFunc("POST /api/session", s.SessionHandler)
	mux.HandleFunc("POST /api/login", s.LoginHandler)
	mux.HandleFunc("GET "+callbackRoute, s.TelegramCallbackHandler)

	var h http.Handler = mux
	h = RecoverMiddleware(h, s.log)
	h = LoggingMiddleware(h, s.log)
	h = RequestIDMiddleware(h)

	return h
}

type sessionRequest struct {
	Runtime  bool   `json:"runtime"`
	InitData string `json:"init_data"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type viewResponse struct {
	LoggedInUser     *string      `json:"logged_in_user"`
	Message          string       `json:"message"`
	ShowConfirmation bool         `json:"show_confirmation"`
	Phase            models.Phase `json:"phase"`
	CloseAfterMS     int64        `json:"close_after_ms,omitempty"`
	Error            string       `json:"error,omitempty"`
}

func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tplIndex.Execute(w, map[string]any{
		"Title": "Sign in to your account",
	}); err != nil {
		s.log.Error("failed to render page", sl.Err(err))
	}
}

// SessionHandler returns the live session of the cookie, or starts a new one
// from the runtime snapshot the page sent.
func (s *Server) SessionHandler(w http.ResponseWriter, r *http.Request) {
	const op = "miniapp_http.SessionHandler"

	log := s.log.With(slog.String("op", op))

	if ctrl, sid, err := s.currentSession(r); err == nil {
		s.refreshCookie(w, sid)
		s.writeView(w, http.StatusOK, ctrl, "")
		return
	}

	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	sid := uuid.NewString()

	var rt miniapp.Runtime
	if req.Runtime {
		userID := ""
		if req.InitData != "" {
			data, err := miniapp.ParseInitData(req.InitData, s.opts.BotToken, s.opts.InitDataTTL, s.clock.Now())
			if err != nil {
				log.Warn("invalid init data", sl.Err(err))
				writeError(w, http.StatusUnauthorized, "invalid init data")
				return
			}
			userID = data.UserID()
		}
		rt = miniapp.NewWebApp(userID, s.endSession(sid))
	}

	ctrl, err := s.startSession(w, sid, rt)
	if err != nil {
		log.Error("failed to start session", sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	log.Info("session started", slog.Bool("runtime", req.Runtime), slog.String("telegram_user_id", ctrl.TelegramUserID()))

	s.writeView(w, http.StatusOK, ctrl, "")
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	const op = "miniapp_http.LoginHandler"

	log := s.log.With(slog.String("op", op))

	ctrl, sid, err := s.currentSession(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "session not found")
		return
	}

	s.refreshCookie(w, sid)

	clientIP := utils.ClientIP(r)

	if err := s.limiter.Check(r.Context(), clientIP); err != nil {
		if errors.Is(err, ratelimiter.ErrBlocked) {
			s.writeView(w, http.StatusTooManyRequests, ctrl, err.Error())
			return
		}
		log.Error("rate limiter failed", sl.Err(err))
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeView(w, http.StatusBadRequest, ctrl, "malformed request")
		return
	}

	st, err := ctrl.Submit(r.Context(), models.Credentials{Email: req.Email, Password: req.Password})
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		s.writeView(w, http.StatusBadRequest, ctrl, validationMessage(err))
		return
	case errors.Is(err, session.ErrSubmitInFlight):
		s.writeView(w, http.StatusConflict, ctrl, "login already in progress")
		return
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusUnauthorized, "session not found")
		return
	case err != nil:
		log.Error("submit failed", sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.trackAttempt(r, clientIP, st)

	s.writeView(w, http.StatusOK, ctrl, "")
}

// TelegramCallbackHandler accepts the Telegram Login Widget redirect, for
// users who open the page in a regular browser.
func (s *Server) TelegramCallbackHandler(w http.ResponseWriter, r *http.Request) {
	const op = "miniapp_http.TelegramCallbackHandler"

	log := s.log.With(slog.String("op", op))

	sid := uuid.NewString()

	rt, err := miniapp.FromLoginWidget(r.URL.String(), s.opts.BotToken, s.endSession(sid))
	if err != nil {
		log.Error("invalid login widget data", sl.Err(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if _, err := s.startSession(w, sid, rt); err != nil {
		log.Error("failed to start session", sl.Err(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) startSession(w http.ResponseWriter, sid string, rt miniapp.Runtime) (*session.Controller, error) {
	tok, err := s.tokens.Issue(sid)
	if err != nil {
		return nil, err
	}

	ctrl := s.factory(rt)
	s.sessions.Put(sid, ctrl)

	s.setCookie(w, tok)

	return ctrl, nil
}

// refreshCookie re-seals the session id so the cookie expires together with
// the session, whose TTL restarts on every use.
func (s *Server) refreshCookie(w http.ResponseWriter, sid string) {
	tok, err := s.tokens.Issue(sid)
	if err != nil {
		s.log.Error("failed to refresh session token", sl.Err(err))
		return
	}

	s.setCookie(w, tok)
}

func (s *Server) setCookie(w http.ResponseWriter, tok string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(s.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// endSession is the close action handed to the runtime: once the mini-app
// closes, its session is gone too.
func (s *Server) endSession(sid string) func() {
	return func() {
		if s.sessions.Delete(sid) {
			s.log.Info("session ended by mini-app close", slog.String("sid", sid))
		}
	}
}

func (s *Server) currentSession(r *http.Request) (*session.Controller, string, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil, "", repository.ErrSessionNotFound
	}

	sid, err := s.tokens.Parse(c.Value)
	if err != nil {
		return nil, "", err
	}

	ctrl, err := s.sessions.Get(sid)
	if err != nil {
		return nil, "", err
	}

	return ctrl, sid, nil
}

func (s *Server) trackAttempt(r *http.Request, clientIP string, st models.SessionState) {
	var err error

	switch {
	case st.Phase == models.PhaseAuthFailed && st.Message == models.MessageInvalidCredentials:
		err = s.limiter.RegisterFailure(r.Context(), clientIP)
	case st.Phase != models.PhaseAuthFailed:
		err = s.limiter.ResetAttempts(r.Context(), clientIP)
	}

	if err != nil && !errors.Is(err, ratelimiter.ErrBlocked) {
		s.log.Error("failed to track login attempt", sl.Err(err))
	}
}

func (s *Server) writeView(w http.ResponseWriter, status int, ctrl *session.Controller, errMsg string) {
	st := ctrl.State()

	resp := viewResponse{
		LoggedInUser:     st.LoggedInUser,
		Message:          st.Message,
		ShowConfirmation: st.ShowConfirmation,
		Phase:            st.Phase,
		Error:            errMsg,
	}
	if st.ShowConfirmation && ctrl.ClosePending() {
		resp.CloseAfterMS = s.opts.CloseDelay.Milliseconds()
	}

	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, viewResponse{Phase: models.PhaseUnauthenticated, Error: msg})
}

func validationMessage(err error) string {
	var errs validation.Errors
	if errors.As(err, &errs) {
		return errs.Error()
	}
	return session.ErrInvalidInput.Error()
}
