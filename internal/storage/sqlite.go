package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/polyglossa/authcore/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS webauthn_credentials (
	credential_id    TEXT PRIMARY KEY,
	public_key       BLOB NOT NULL,
	attestation_type TEXT NOT NULL DEFAULT '',
	sign_count       INTEGER NOT NULL DEFAULT 0,
	counter_policy   TEXT NOT NULL,
	flags            TEXT NOT NULL DEFAULT '{}',
	user_id          TEXT NOT NULL REFERENCES users(id),
	created_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_webauthn_credentials_user
	ON webauthn_credentials(user_id);
`

// SQLiteStore is the durable user directory and credential registry. The
// surrounding application keeps its data in SQLite, so this is the default
// production backend.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent registry updates.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, password_hash, created_at FROM users WHERE username = ?`,
		username)
	return scanUser(row)
}

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, password_hash, created_at FROM users WHERE id = ?`,
		id)
	return scanUser(row)
}

func (s *SQLiteStore) HasCredential(ctx context.Context, userID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webauthn_credentials WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count credentials: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.DisplayName, user.PasswordHash, user.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetPasswordHash(ctx context.Context, userID, hash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, hash, userID)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) FindByCredentialID(ctx context.Context, id []byte) (*models.WebAuthnCredential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT credential_id, public_key, attestation_type, sign_count, counter_policy, flags, user_id, created_at
		 FROM webauthn_credentials WHERE credential_id = ?`,
		credentialKey(id))
	credential, err := scanCredential(row)
	if err != nil {
		return nil, err
	}
	return credential, nil
}

func (s *SQLiteStore) FindAllForUser(ctx context.Context, userID string) ([]models.WebAuthnCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT credential_id, public_key, attestation_type, sign_count, counter_policy, flags, user_id, created_at
		 FROM webauthn_credentials WHERE user_id = ? ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []models.WebAuthnCredential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, *credential)
	}
	return credentials, rows.Err()
}

func (s *SQLiteStore) Insert(ctx context.Context, credential *models.WebAuthnCredential) error {
	flags, err := json.Marshal(credential.Flags)
	if err != nil {
		return fmt.Errorf("failed to marshal credential flags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO webauthn_credentials
		 (credential_id, public_key, attestation_type, sign_count, counter_policy, flags, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		credential.EncodedID(), credential.PublicKey, credential.AttestationType,
		credential.SignCount, string(credential.CounterPolicy), string(flags), credential.UserID,
		credential.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCredential
		}
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateCounter(ctx context.Context, id []byte, newCounter uint32) error {
	// Compare-and-set: the WHERE clause guarantees a concurrent update with a
	// higher counter cannot be overwritten.
	result, err := s.db.ExecContext(ctx,
		`UPDATE webauthn_credentials SET sign_count = ? WHERE credential_id = ? AND sign_count < ?`,
		newCounter, credentialKey(id), newCounter)
	if err != nil {
		return fmt.Errorf("failed to update counter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.FindByCredentialID(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStaleCounter
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var createdAt int64
	err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &user.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdAt)
	return &user, nil
}

func scanCredential(row rowScanner) (*models.WebAuthnCredential, error) {
	var credential models.WebAuthnCredential
	var encodedID, policy, flags string
	var createdAt int64
	err := row.Scan(&encodedID, &credential.PublicKey, &credential.AttestationType,
		&credential.SignCount, &policy, &flags, &credential.UserID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}
	id, err := decodeCredentialKey(encodedID)
	if err != nil {
		return nil, fmt.Errorf("failed to decode credential id: %w", err)
	}
	if err := json.Unmarshal([]byte(flags), &credential.Flags); err != nil {
		return nil, fmt.Errorf("failed to decode credential flags: %w", err)
	}
	credential.ID = id
	credential.CounterPolicy = models.CounterPolicy(policy)
	credential.CreatedAt = time.UnixMilli(createdAt)
	return &credential, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
