package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyglossa/authcore/internal/models"
)

// RedisChallengeStore keeps ceremony challenges in Redis with a native TTL.
// GETDEL makes consumption an atomic take, so two racing completions of the
// same ceremony cannot both obtain the challenge.
type RedisChallengeStore struct {
	client *redis.Client
}

func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client}
}

func (r *RedisChallengeStore) SaveChallenge(ctx context.Context, challenge *models.Challenge) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	ttl := time.Until(challenge.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("challenge already expired")
	}

	if err := r.client.Set(ctx, challengeKey(challenge.Value), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}
	return nil
}

func (r *RedisChallengeStore) ConsumeChallenge(ctx context.Context, value []byte) (*models.Challenge, error) {
	data, err := r.client.GetDel(ctx, challengeKey(value)).Result()
	if err == redis.Nil {
		// Unknown, already consumed, or expired out by Redis.
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}

	var challenge models.Challenge
	if err := json.Unmarshal([]byte(data), &challenge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}
	return &challenge, nil
}

func challengeKey(value []byte) string {
	return "challenge:" + base64.RawURLEncoding.EncodeToString(value)
}
