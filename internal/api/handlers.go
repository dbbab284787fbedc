// Package api is the reference transport adapter: thin JSON handlers over
// the auth gateway plus session cookie framing. The auth core itself never
// touches HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/securecookie"

	"github.com/polyglossa/authcore/internal/auth"
	"github.com/polyglossa/authcore/internal/ceremony"
	"github.com/polyglossa/authcore/internal/challenge"
	"github.com/polyglossa/authcore/internal/storage"
)

// SessionCookie is the cookie carrying the encoded session token.
const SessionCookie = "polyglossa_session"

type Server struct {
	gateway *auth.Gateway
	cookies *securecookie.SecureCookie
	logger  *slog.Logger
}

func NewServer(gateway *auth.Gateway, cookies *securecookie.SecureCookie, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		gateway: gateway,
		cookies: cookies,
		logger:  logger,
	}
}

type finishRequest struct {
	Challenge  string          `json:"challenge"`
	Credential json.RawMessage `json:"credential"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) RegisterBeginHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	options, err := s.gateway.BeginRegistration(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, options)
}

func (s *Server) RegisterFinishHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	var req finishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	credential, session, err := s.gateway.FinishRegistration(r.Context(), user.ID, req.Challenge, req.Credential)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.setSessionCookie(w, session.Token)
	writeJSON(w, map[string]any{
		"status":       "registered",
		"credentialId": credential.EncodedID(),
		"session":      session,
	})
}

func (s *Server) LoginBeginHandler(w http.ResponseWriter, r *http.Request) {
	// No username means a discoverable login: the authenticator picks the
	// credential.
	userID := ""
	if username := r.URL.Query().Get("username"); username != "" {
		user, err := s.gateway.Users().FindByUsername(r.Context(), username)
		if err != nil {
			s.writeError(w, r, auth.ErrUserNotFound)
			return
		}
		userID = user.ID
	}

	options, err := s.gateway.BeginAuthentication(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, options)
}

func (s *Server) LoginFinishHandler(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session, err := s.gateway.FinishAuthentication(r.Context(), req.Challenge, req.Credential)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.setSessionCookie(w, session.Token)
	writeJSON(w, map[string]any{
		"status":  "authenticated",
		"session": session,
	})
}

func (s *Server) PasswordLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session, err := s.gateway.LoginWithPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.setSessionCookie(w, session.Token)
	writeJSON(w, map[string]any{
		"status":  "authenticated",
		"session": session,
	})
}

func (s *Server) ValidateSessionHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := s.sessionToken(r)
	if !ok {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}

	session, err := s.gateway.VerifySession(token)
	if err != nil {
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return
	}

	writeJSON(w, map[string]any{
		"valid":    true,
		"userId":   session.UserID,
		"username": session.Username,
		"expires":  session.ExpiresAt,
	})
}

func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	writeJSON(w, map[string]string{"status": "logged_out"})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

func (s *Server) resolveUser(w http.ResponseWriter, r *http.Request) (user userRef, ok bool) {
	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "username required", http.StatusBadRequest)
		return userRef{}, false
	}
	found, err := s.gateway.Users().FindByUsername(r.Context(), username)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "unknown user", http.StatusNotFound)
		return userRef{}, false
	}
	if err != nil {
		s.logger.Error("user lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return userRef{}, false
	}
	return userRef{ID: found.ID, Username: found.Username}, true
}

type userRef struct {
	ID       string
	Username string
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	encoded, err := s.cookies.Encode(SessionCookie, token)
	if err != nil {
		s.logger.Error("failed to encode session cookie", "error", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) sessionToken(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		// Fall back to a bearer token for non-browser clients.
		authz := r.Header.Get("Authorization")
		if len(authz) > 7 && authz[:7] == "Bearer " {
			return authz[7:], true
		}
		return "", false
	}

	var token string
	if err := s.cookies.Decode(SessionCookie, cookie.Value, &token); err != nil {
		return "", false
	}
	return token, true
}

// writeError maps the auth core taxonomy onto transport responses. Expired
// and unknown challenges share one message, as do unknown users and wrong
// passwords.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		http.Error(w, auth.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
	case errors.Is(err, challenge.ErrExpired),
		errors.Is(err, challenge.ErrUnknown),
		errors.Is(err, challenge.ErrPurposeMismatch):
		s.logger.Info("challenge rejected", "path", r.URL.Path, "error", err)
		http.Error(w, "ceremony challenge rejected, restart the ceremony", http.StatusBadRequest)
	case errors.Is(err, ceremony.ErrOriginMismatch),
		errors.Is(err, ceremony.ErrRPIDMismatch),
		errors.Is(err, ceremony.ErrSignatureVerification),
		errors.Is(err, ceremony.ErrCounterRegression):
		s.logger.Warn("ceremony rejected", "path", r.URL.Path, "error", err)
		http.Error(w, "credential verification failed", http.StatusUnauthorized)
	case errors.Is(err, ceremony.ErrCredentialNotFound):
		http.Error(w, "credential not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrDuplicateCredential):
		http.Error(w, "credential already registered", http.StatusConflict)
	case errors.Is(err, auth.ErrUserNotFound):
		http.Error(w, "unknown user", http.StatusNotFound)
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
