package storage

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/polyglossa/authcore/internal/models"
)

// MemoryStore keeps users, credentials, and challenges in process memory.
// It backs tests and single-node development setups.
type MemoryStore struct {
	mu          sync.RWMutex
	usersByID   map[string]*models.User
	usersByName map[string]string
	credentials map[string]*models.WebAuthnCredential
	challenges  map[string]*models.Challenge
}

func NewMemoryStore() *MemoryStore {
	store := &MemoryStore{
		usersByID:   make(map[string]*models.User),
		usersByName: make(map[string]string),
		credentials: make(map[string]*models.WebAuthnCredential),
		challenges:  make(map[string]*models.Challenge),
	}

	// Background sweep for challenges that were never consumed
	go store.sweepRoutine()

	return store
}

func (m *MemoryStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usersByName[username]
	if !ok {
		return nil, ErrNotFound
	}
	user := *m.usersByID[id]
	return &user, nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.usersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *MemoryStore) HasCredential(ctx context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, credential := range m.credentials {
		if credential.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usersByName[user.Username]; exists {
		return ErrDuplicateUser
	}
	copied := *user
	m.usersByID[user.ID] = &copied
	m.usersByName[user.Username] = user.ID
	return nil
}

func (m *MemoryStore) SetPasswordHash(ctx context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByID[userID]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = hash
	return nil
}

func (m *MemoryStore) FindByCredentialID(ctx context.Context, id []byte) (*models.WebAuthnCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	credential, ok := m.credentials[credentialKey(id)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *credential
	return &copied, nil
}

func (m *MemoryStore) FindAllForUser(ctx context.Context, userID string) ([]models.WebAuthnCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var credentials []models.WebAuthnCredential
	for _, credential := range m.credentials {
		if credential.UserID == userID {
			credentials = append(credentials, *credential)
		}
	}
	return credentials, nil
}

func (m *MemoryStore) Insert(ctx context.Context, credential *models.WebAuthnCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := credentialKey(credential.ID)
	if _, exists := m.credentials[key]; exists {
		return ErrDuplicateCredential
	}
	copied := *credential
	m.credentials[key] = &copied
	return nil
}

func (m *MemoryStore) UpdateCounter(ctx context.Context, id []byte, newCounter uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	credential, ok := m.credentials[credentialKey(id)]
	if !ok {
		return ErrNotFound
	}
	if newCounter <= credential.SignCount {
		return ErrStaleCounter
	}
	credential.SignCount = newCounter
	return nil
}

func (m *MemoryStore) SaveChallenge(ctx context.Context, challenge *models.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *challenge
	m.challenges[challenge.Encoded()] = &copied
	return nil
}

func (m *MemoryStore) ConsumeChallenge(ctx context.Context, value []byte) (*models.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := base64.RawURLEncoding.EncodeToString(value)
	challenge, ok := m.challenges[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.challenges, key)
	return challenge, nil
}

// sweepRoutine purges challenges that were never consumed.
func (m *MemoryStore) sweepRoutine() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.sweep(time.Now())
	}
}

func (m *MemoryStore) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, challenge := range m.challenges {
		if challenge.Expired(now) {
			delete(m.challenges, key)
		}
	}
}

func credentialKey(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

func decodeCredentialKey(key string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(key)
}
