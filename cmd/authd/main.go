package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/redis/go-redis/v9"

	"github.com/polyglossa/authcore/internal/api"
	"github.com/polyglossa/authcore/internal/auth"
	"github.com/polyglossa/authcore/internal/ceremony"
	"github.com/polyglossa/authcore/internal/challenge"
	"github.com/polyglossa/authcore/internal/models"
	"github.com/polyglossa/authcore/internal/password"
	"github.com/polyglossa/authcore/internal/session"
	"github.com/polyglossa/authcore/internal/storage"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup user/credential storage
	var users storage.UserDirectory
	var credentials storage.CredentialStore
	switch cfg.StorageMode {
	case "sqlite":
		store, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			slog.Error("Failed to open SQLite store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		users, credentials = store, store
		slog.Info("Using SQLite storage", "path", cfg.SQLitePath)
	case "s3":
		store, err := storage.NewS3Store(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.UseSSL)
		if err != nil {
			slog.Error("Failed to create S3 store", "error", err)
			os.Exit(1)
		}
		users, credentials = store, store
		slog.Info("Using S3 storage", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
	case "memory":
		store := storage.NewMemoryStore()
		users, credentials = store, store
		slog.Warn("Using in-memory storage (not persistent)")
	default:
		slog.Error("Invalid STORAGE_MODE", "mode", cfg.StorageMode, "valid_modes", []string{"memory", "sqlite", "s3"})
		os.Exit(1)
	}

	// Setup challenge storage
	var challenges storage.ChallengeStore
	switch cfg.ChallengeMode {
	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		// Test Redis connection
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		challenges = storage.NewRedisChallengeStore(redisClient)
		slog.Info("Using Redis challenges", "addr", cfg.Redis.Addr)
	case "memory":
		challenges = storage.NewMemoryStore()
		slog.Warn("Using in-memory challenges (single node only)")
	default:
		slog.Error("Invalid CHALLENGE_MODE", "mode", cfg.ChallengeMode, "valid_modes", []string{"memory", "redis"})
		os.Exit(1)
	}

	// Setup services
	challengeManager := challenge.NewManager(challenges, cfg.ChallengeTTL)
	orchestrator, err := ceremony.New(ceremony.Config{
		RPID:         cfg.RPID,
		RPName:       cfg.RPName,
		RPOrigins:    cfg.RPOrigins,
		ChallengeTTL: cfg.ChallengeTTL,
	}, challengeManager, credentials, users, logger)
	if err != nil {
		slog.Error("Failed to create ceremony orchestrator", "error", err)
		os.Exit(1)
	}
	issuer := session.NewIssuer([]byte(cfg.SessionSecret), cfg.SessionTTL)
	gateway := auth.NewGateway(orchestrator, users, issuer, logger)

	if cfg.SeedUsersFile != "" {
		if err := seedUsers(users, cfg.SeedUsersFile); err != nil {
			slog.Error("Failed to seed users", "error", err)
			os.Exit(1)
		}
	}

	cookies := securecookie.New([]byte(cfg.CookieHashKey), cookieEncKey(cfg.CookieEncKey))
	apiServer := api.NewServer(gateway, cookies, logger)

	// Setup routes
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/register/begin", apiServer.RegisterBeginHandler)
	mux.HandleFunc("POST /api/v1/register/finish", apiServer.RegisterFinishHandler)
	mux.HandleFunc("POST /api/v1/login/begin", apiServer.LoginBeginHandler)
	mux.HandleFunc("POST /api/v1/login/finish", apiServer.LoginFinishHandler)
	mux.HandleFunc("POST /api/v1/login/password", apiServer.PasswordLoginHandler)
	mux.HandleFunc("POST /api/v1/logout", apiServer.LogoutHandler)
	mux.HandleFunc("GET /api/v1/session", apiServer.ValidateSessionHandler)
	mux.HandleFunc("GET /health", apiServer.HealthHandler)

	// Apply middleware
	handler := api.LoggingMiddleware(api.CORSMiddleware(mux))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	fmt.Printf("Polyglossa auth service starting on port %s\n", cfg.Port)
	fmt.Println("Endpoints:")
	fmt.Println("  POST /api/v1/register/begin   - WebAuthn registration")
	fmt.Println("  POST /api/v1/register/finish")
	fmt.Println("  POST /api/v1/login/begin      - WebAuthn login")
	fmt.Println("  POST /api/v1/login/finish")
	fmt.Println("  POST /api/v1/login/password   - Password login")
	fmt.Println("  POST /api/v1/logout           - Logout")
	fmt.Println("  GET  /api/v1/session          - Session validation")
	fmt.Println("  GET  /health                  - Health check")

	if err := server.ListenAndServe(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// seedUsers provisions the users listed in the seed file, hashing their
// passwords. Existing usernames are left untouched.
func seedUsers(users storage.UserDirectory, path string) error {
	seeds, err := LoadSeedUsers(path)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, seed := range seeds {
		hash, err := password.Hash(seed.Password)
		if err != nil {
			return fmt.Errorf("failed to hash password for %q: %w", seed.Username, err)
		}

		user := &models.User{
			ID:           uuid.NewString(),
			Username:     seed.Username,
			DisplayName:  seed.DisplayName,
			PasswordHash: hash,
			CreatedAt:    time.Now(),
		}
		err = users.CreateUser(ctx, user)
		if errors.Is(err, storage.ErrDuplicateUser) {
			slog.Info("Seed user exists, skipping", "username", seed.Username)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create user %q: %w", seed.Username, err)
		}
		slog.Info("Seeded user", "username", seed.Username)
	}
	return nil
}

func cookieEncKey(key string) []byte {
	if key == "" {
		return nil
	}
	return []byte(key)
}
