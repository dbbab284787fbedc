package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/polyglossa/authcore/internal/models"
)

// S3Store keeps users and credentials as JSON objects in an S3 bucket.
// Layout:
//
//	users/<username>.json           user record
//	userids/<id>                    username lookup for a user id
//	credentials/<credential-id>.json credential record
//	usercreds/<user-id>/<credential-id> per-user index marker
//
// S3 offers no compare-and-set, so UpdateCounter is read-check-write; the
// SQLite backend is the one to use when cloned-authenticator races matter.
type S3Store struct {
	client *minio.Client
	bucket string
}

func NewS3Store(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &S3Store{client: client, bucket: bucket}, nil
}

func (s *S3Store) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.getJSON(ctx, userObjectKey(username), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *S3Store) FindByID(ctx context.Context, id string) (*models.User, error) {
	username, err := s.getRaw(ctx, "userids/"+id)
	if err != nil {
		return nil, err
	}
	return s.FindByUsername(ctx, string(username))
}

func (s *S3Store) HasCredential(ctx context.Context, userID string) (bool, error) {
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix: "usercreds/" + userID + "/",
	}) {
		if object.Err != nil {
			return false, fmt.Errorf("failed to list credentials: %w", object.Err)
		}
		return true, nil
	}
	return false, nil
}

func (s *S3Store) CreateUser(ctx context.Context, user *models.User) error {
	exists, err := s.exists(ctx, userObjectKey(user.Username))
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateUser
	}
	if err := s.putJSON(ctx, userObjectKey(user.Username), user); err != nil {
		return err
	}
	return s.putRaw(ctx, "userids/"+user.ID, []byte(user.Username))
}

func (s *S3Store) SetPasswordHash(ctx context.Context, userID, hash string) error {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return s.putJSON(ctx, userObjectKey(user.Username), user)
}

func (s *S3Store) FindByCredentialID(ctx context.Context, id []byte) (*models.WebAuthnCredential, error) {
	var credential models.WebAuthnCredential
	if err := s.getJSON(ctx, credentialObjectKey(id), &credential); err != nil {
		return nil, err
	}
	return &credential, nil
}

func (s *S3Store) FindAllForUser(ctx context.Context, userID string) ([]models.WebAuthnCredential, error) {
	prefix := "usercreds/" + userID + "/"

	var credentials []models.WebAuthnCredential
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list credentials: %w", object.Err)
		}
		key, err := decodeCredentialKey(object.Key[len(prefix):])
		if err != nil {
			continue
		}
		credential, err := s.FindByCredentialID(ctx, key)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, *credential)
	}
	return credentials, nil
}

func (s *S3Store) Insert(ctx context.Context, credential *models.WebAuthnCredential) error {
	exists, err := s.exists(ctx, credentialObjectKey(credential.ID))
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateCredential
	}
	if err := s.putJSON(ctx, credentialObjectKey(credential.ID), credential); err != nil {
		return err
	}
	return s.putRaw(ctx, "usercreds/"+credential.UserID+"/"+credential.EncodedID(), nil)
}

func (s *S3Store) UpdateCounter(ctx context.Context, id []byte, newCounter uint32) error {
	credential, err := s.FindByCredentialID(ctx, id)
	if err != nil {
		return err
	}
	if newCounter <= credential.SignCount {
		return ErrStaleCounter
	}
	credential.SignCount = newCounter
	return s.putJSON(ctx, credentialObjectKey(id), credential)
}

func (s *S3Store) getJSON(ctx context.Context, key string, out any) error {
	data, err := s.getRaw(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) getRaw(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Store) putJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.putRaw(ctx, key, data)
}

func (s *S3Store) putRaw(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

func userObjectKey(username string) string {
	return "users/" + username + ".json"
}

func credentialObjectKey(id []byte) string {
	return "credentials/" + credentialKey(id) + ".json"
}
