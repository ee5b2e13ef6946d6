// Package auth implements account registration, password and code login,
// and remote session control. Login responses surface concurrent logins
// through multi_login_detected; the client decides whether to keep or
// terminate the other devices.
package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/nexuschat/nexus/internal/httpx"
	"github.com/nexuschat/nexus/internal/session"
	"github.com/nexuschat/nexus/internal/store"
)

// UserStore is the slice of the persistence gateway the auth service
// consumes.
type UserStore interface {
	RegisterUser(email, username, pwdhash string) error
	FindUser(email string) (store.User, bool, error)
	PasswordHash(email string) (string, error)
}

// Service owns the session tracker and the auth HTTP surface.
type Service struct {
	store   UserStore
	tracker *session.Tracker
	codes   *CodeIssuer
	sender  CodeSender
	logger  zerolog.Logger
}

// NewService wires an auth service over the given store. A nil sender
// falls back to logging issued codes.
func NewService(st UserStore, sender CodeSender, logger zerolog.Logger) *Service {
	logger = logger.With().Str("service", "auth").Logger()
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &Service{
		store:   st,
		tracker: session.NewTracker(),
		codes:   NewCodeIssuer(),
		sender:  sender,
		logger:  logger,
	}
}

// Tracker exposes the session tracker.
func (s *Service) Tracker() *session.Tracker {
	return s.tracker
}

// Routes returns the service mux.
func (s *Service) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/register", s.handleRegister)
	mux.HandleFunc("/api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("/api/v1/auth/send-code", s.handleSendCode)
	mux.HandleFunc("/api/v1/auth/login-with-code", s.handleLoginWithCode)
	mux.HandleFunc("/api/v1/auth/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/auth/terminate-other-sessions", s.handleTerminateOthers)
	mux.HandleFunc("/api/v1/auth/logout", s.handleLogout)
	return mux
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Vericode string `json:"vericode"`
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registerRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		httpx.Fail(w, http.StatusBadRequest, "email, username, and password are required")
		return
	}
	if !s.codes.Verify(req.Email, req.Vericode) {
		httpx.Fail(w, http.StatusUnauthorized, "invalid or expired verification code")
		return
	}

	if _, found, err := s.store.FindUser(req.Email); err != nil {
		s.logger.Error().Err(err).Msg("looking up account")
		httpx.Fail(w, http.StatusInternalServerError, "failed to register")
		return
	} else if found {
		httpx.Fail(w, http.StatusConflict, "account already exists")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error().Err(err).Msg("hashing password")
		httpx.Fail(w, http.StatusInternalServerError, "failed to register")
		return
	}

	if err := s.store.RegisterUser(req.Email, req.Username, string(hash)); err != nil {
		s.logger.Error().Err(err).Msg("creating account")
		httpx.Fail(w, http.StatusInternalServerError, "failed to register")
		return
	}

	// Registration logs the device straight in.
	s.issueSession(w, r, req.Email)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req loginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.Fail(w, http.StatusBadRequest, "email and password are required")
		return
	}

	hash, err := s.store.PasswordHash(req.Email)
	if err != nil {
		// Unknown account and wrong password are indistinguishable to the
		// caller.
		httpx.Fail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		httpx.Fail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.issueSession(w, r, req.Email)
}

type sendCodeRequest struct {
	Email string `json:"email"`
}

func (s *Service) handleSendCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sendCodeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" {
		httpx.Fail(w, http.StatusBadRequest, "email is required")
		return
	}

	// Codes serve both registration and code login, so one is issued
	// whether or not an account exists yet.
	code := s.codes.Issue(req.Email)
	if err := s.sender.Send(req.Email, code); err != nil {
		s.logger.Error().Err(err).Msg("sending verification code")
		httpx.Fail(w, http.StatusInternalServerError, "failed to send code")
		return
	}
	httpx.OK(w, nil, "verification code sent")
}

type codeLoginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *Service) handleLoginWithCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req codeLoginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Code == "" {
		httpx.Fail(w, http.StatusBadRequest, "email and code are required")
		return
	}

	if !s.codes.Verify(req.Email, req.Code) {
		httpx.Fail(w, http.StatusUnauthorized, "invalid or expired code")
		return
	}
	if _, found, err := s.store.FindUser(req.Email); err != nil || !found {
		httpx.Fail(w, http.StatusUnauthorized, "invalid or expired code")
		return
	}

	s.issueSession(w, r, req.Email)
}

// issueSession mints a session token for email and writes the login
// response. The multi-login flag reflects sessions that existed before
// this one.
func (s *Service) issueSession(w http.ResponseWriter, r *http.Request, email string) {
	token, multiLogin := s.tracker.Issue(email, deviceTag(r))
	if multiLogin {
		s.logger.Info().Str("email", email).Msg("concurrent login detected")
	}

	httpx.OK(w, map[string]any{
		"email":                email,
		"session_token":        token,
		"multi_login_detected": multiLogin,
	}, "login successful")
}

func (s *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" {
		httpx.Fail(w, http.StatusBadRequest, "email is required")
		return
	}
	if !s.authorize(r, email) {
		httpx.Fail(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	httpx.OK(w, map[string]any{"sessions": s.tracker.List(email)}, "sessions loaded")
}

type terminateRequest struct {
	Email               string `json:"email"`
	CurrentSessionToken string `json:"current_session_token"`
}

func (s *Service) handleTerminateOthers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req terminateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.CurrentSessionToken == "" {
		httpx.Fail(w, http.StatusBadRequest, "email and current_session_token are required")
		return
	}
	if !s.tracker.Validate(req.Email, req.CurrentSessionToken) {
		httpx.Fail(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	s.tracker.Terminate(req.Email, req.CurrentSessionToken)
	s.logger.Info().Str("email", req.Email).Msg("other sessions terminated")
	httpx.OK(w, map[string]any{"sessions": s.tracker.List(req.Email)}, "other sessions terminated")
}

type logoutRequest struct {
	Email string `json:"email"`
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req logoutRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" {
		httpx.Fail(w, http.StatusBadRequest, "email is required")
		return
	}

	token := bearerToken(r)
	if !s.tracker.Remove(req.Email, token) {
		httpx.Fail(w, http.StatusUnauthorized, "invalid session token")
		return
	}
	httpx.OK(w, nil, "logged out")
}

// authorize checks the request's bearer token against email's active
// sessions.
func (s *Service) authorize(r *http.Request, email string) bool {
	return s.tracker.Validate(email, bearerToken(r))
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

// deviceTag labels the session for listings; clients may override the
// default user-agent tag with X-Device-Tag.
func deviceTag(r *http.Request) string {
	if tag := r.Header.Get("X-Device-Tag"); tag != "" {
		return tag
	}
	return r.UserAgent()
}
