// Package auth composes the ceremony orchestrator, password verification,
// and session issuance into the boundary surface the surrounding
// application calls.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/polyglossa/authcore/internal/ceremony"
	"github.com/polyglossa/authcore/internal/models"
	"github.com/polyglossa/authcore/internal/password"
	"github.com/polyglossa/authcore/internal/session"
	"github.com/polyglossa/authcore/internal/storage"
)

// ErrInvalidCredentials is the single externally visible password-login
// failure. Unknown usernames and wrong passwords deliberately collapse into
// it so responses cannot be used for account enumeration.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrUserNotFound is returned by ceremony entry points that require an
// existing directory user.
var ErrUserNotFound = errors.New("user not found")

// Gateway is the auth core's boundary surface.
type Gateway struct {
	ceremonies *ceremony.Orchestrator
	users      storage.UserDirectory
	sessions   *session.Issuer
	logger     *slog.Logger
}

func NewGateway(ceremonies *ceremony.Orchestrator, users storage.UserDirectory, sessions *session.Issuer, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		ceremonies: ceremonies,
		users:      users,
		sessions:   sessions,
		logger:     logger,
	}
}

// Users exposes the directory for transport-layer lookups (resolving a
// username before starting a ceremony). Ceremony code never goes through
// this.
func (g *Gateway) Users() storage.UserDirectory {
	return g.users
}

// BeginRegistration starts a registration ceremony for an existing user.
func (g *Gateway) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	user, err := g.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return g.ceremonies.BeginRegistration(ctx, user)
}

// FinishRegistration completes a registration ceremony and mints a session
// for the newly registered credential's owner.
func (g *Gateway) FinishRegistration(ctx context.Context, userID, challengeValue string, response []byte) (*models.WebAuthnCredential, *models.Session, error) {
	user, err := g.lookupUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	credential, err := g.ceremonies.FinishRegistration(ctx, user, challengeValue, response)
	if err != nil {
		return nil, nil, err
	}

	issued, err := g.sessions.Issue(user.ID, user.Username)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue session: %w", err)
	}
	return credential, issued, nil
}

// BeginAuthentication starts an authentication ceremony. An empty userID
// selects the discoverable (usernameless) flow.
func (g *Gateway) BeginAuthentication(ctx context.Context, userID string) (*protocol.CredentialAssertion, error) {
	if userID != "" {
		if _, err := g.lookupUser(ctx, userID); err != nil {
			return nil, err
		}
	}
	return g.ceremonies.BeginAuthentication(ctx, userID)
}

// FinishAuthentication completes an authentication ceremony and mints a
// session for the credential's owner.
func (g *Gateway) FinishAuthentication(ctx context.Context, challengeValue string, response []byte) (*models.Session, error) {
	userID, err := g.ceremonies.FinishAuthentication(ctx, challengeValue, response)
	if err != nil {
		return nil, err
	}

	user, err := g.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	issued, err := g.sessions.Issue(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	g.logger.Info("passkey login", "user", user.ID)
	return issued, nil
}

// LoginWithPassword verifies a username/password pair and mints a session.
// The error shape is identical for unknown users and wrong passwords; only
// the internal log keeps the distinction.
func (g *Gateway) LoginWithPassword(ctx context.Context, username, plaintext string) (*models.Session, error) {
	user, err := g.users.FindByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		g.logger.Info("password login rejected", "reason", "unknown user", "username", username)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !password.Verify(user.PasswordHash, plaintext) {
		g.logger.Info("password login rejected", "reason", "wrong password", "user", user.ID)
		return nil, ErrInvalidCredentials
	}

	issued, err := g.sessions.Issue(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	g.logger.Info("password login", "user", user.ID)
	return issued, nil
}

// VerifySession validates a session token for the transport layer.
func (g *Gateway) VerifySession(token string) (*models.Session, error) {
	return g.sessions.Verify(token)
}

func (g *Gateway) lookupUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := g.users.FindByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return user, nil
}
