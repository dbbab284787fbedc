package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyglossa/authcore/internal/models"
)

func TestMemoryUsers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	user := &models.User{ID: "u1", Username: "mira"}
	require.NoError(t, store.CreateUser(ctx, user))

	found, err := store.FindByUsername(ctx, "mira")
	require.NoError(t, err)
	assert.Equal(t, "u1", found.ID)

	_, err = store.FindByID(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.CreateUser(ctx, &models.User{ID: "u2", Username: "mira"})
	assert.ErrorIs(t, err, ErrDuplicateUser)

	require.NoError(t, store.SetPasswordHash(ctx, "u1", "hash"))
	found, err = store.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "hash", found.PasswordHash)
}

func TestMemoryCredentials(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	credential := &models.WebAuthnCredential{
		ID:            []byte{1, 2, 3},
		PublicKey:     []byte{0xa5},
		SignCount:     1,
		CounterPolicy: models.StrictMonotonic,
		UserID:        "u1",
	}
	require.NoError(t, store.Insert(ctx, credential))
	assert.ErrorIs(t, store.Insert(ctx, credential), ErrDuplicateCredential)

	found, err := store.FindByCredentialID(ctx, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "u1", found.UserID)

	has, err := store.HasCredential(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, store.UpdateCounter(ctx, credential.ID, 4))
	assert.ErrorIs(t, store.UpdateCounter(ctx, credential.ID, 4), ErrStaleCounter)
	assert.ErrorIs(t, store.UpdateCounter(ctx, []byte{9}, 10), ErrNotFound)

	// Returned records are copies; mutating them must not touch the store.
	found.SignCount = 99
	again, err := store.FindByCredentialID(ctx, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, uint32(4), again.SignCount)
}

func TestMemoryChallengeConsume(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	challenge := &models.Challenge{
		Value:     []byte("challenge-value-challenge-value!"),
		Purpose:   models.PurposeAuthentication,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, store.SaveChallenge(ctx, challenge))

	taken, err := store.ConsumeChallenge(ctx, challenge.Value)
	require.NoError(t, err)
	assert.Equal(t, models.PurposeAuthentication, taken.Purpose)

	_, err = store.ConsumeChallenge(ctx, challenge.Value)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySweepDropsExpiredChallenges(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	expired := &models.Challenge{
		Value:     []byte("expired-value"),
		Purpose:   models.PurposeRegistration,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	live := &models.Challenge{
		Value:     []byte("live-value"),
		Purpose:   models.PurposeRegistration,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, store.SaveChallenge(ctx, expired))
	require.NoError(t, store.SaveChallenge(ctx, live))

	store.sweep(time.Now())

	_, err := store.ConsumeChallenge(ctx, expired.Value)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ConsumeChallenge(ctx, live.Value)
	require.NoError(t, err)
}
