package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()

	issuer := NewIssuer([]byte("test-secret"), time.Hour)

	issued, err := issuer.Issue("user-1", "leonie")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.Equal(t, "user-1", issued.UserID)
	assert.Equal(t, "leonie", issued.Username)
	assert.WithinDuration(t, issued.IssuedAt.Add(time.Hour), issued.ExpiresAt, time.Second)

	verified, err := issuer.Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", verified.UserID)
	assert.Equal(t, "leonie", verified.Username)
}

func TestVerifyExpired(t *testing.T) {
	t.Parallel()

	issuer := NewIssuer([]byte("test-secret"), time.Hour)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	issued, err := issuer.Issue("user-1", "leonie")
	require.NoError(t, err)

	_, err = issuer.Verify(issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	t.Parallel()

	issued, err := NewIssuer([]byte("right-secret"), time.Hour).Issue("user-1", "leonie")
	require.NoError(t, err)

	_, err = NewIssuer([]byte("wrong-secret"), time.Hour).Verify(issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	t.Parallel()

	issuer := NewIssuer([]byte("test-secret"), time.Hour)
	_, err := issuer.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
