// Package session mints and verifies the stateless authenticated session
// tokens issued after a successful login or ceremony.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/polyglossa/authcore/internal/models"
)

// ErrInvalidToken is returned by Verify for expired, tampered, or otherwise
// unusable tokens.
var ErrInvalidToken = errors.New("invalid session token")

// DefaultTTL is the session lifetime used when none is configured.
const DefaultTTL = 24 * time.Hour

// Claims is the JWT payload of a session token.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"preferred_username"`
}

// Issuer signs session tokens with a shared secret. There is no server-side
// session table; expiry is carried by the token itself.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a session for the user with a fixed expiry window.
func (i *Issuer) Issue(userID, username string) (*models.Session, error) {
	issuedAt := i.now()
	expiresAt := issuedAt.Add(i.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: username,
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &models.Session{
		Token:     signed,
		UserID:    userID,
		Username:  username,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify parses and validates a session token and reconstructs the session
// payload.
func (i *Issuer) Verify(tokenString string) (*models.Session, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}

	return &models.Session{
		Token:     tokenString,
		UserID:    claims.Subject,
		Username:  claims.Username,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
