package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options
type Config struct {
	// Server config
	Port      string   `long:"port" env:"PORT" default:"8443" description:"Server port"`
	RPID      string   `long:"rp-id" env:"RP_ID" default:"localhost" description:"Relying party ID (registrable domain)"`
	RPName    string   `long:"rp-name" env:"RP_NAME" default:"Polyglossa" description:"Relying party display name"`
	RPOrigins []string `long:"rp-origin" env:"RP_ORIGIN" env-delim:"," default:"https://localhost:8443" description:"Exact origins accepted in ceremony responses"`

	ChallengeTTL time.Duration `long:"challenge-ttl" env:"CHALLENGE_TTL" default:"5m" description:"Ceremony challenge lifetime"`
	SessionTTL   time.Duration `long:"session-ttl" env:"SESSION_TTL" default:"24h" description:"Session token lifetime"`

	// Secrets
	SessionSecret string `long:"session-secret" env:"SESSION_SECRET" description:"HMAC secret for session tokens (required)"`
	CookieHashKey string `long:"cookie-hash-key" env:"COOKIE_HASH_KEY" description:"Session cookie HMAC key (required)"`
	CookieEncKey  string `long:"cookie-enc-key" env:"COOKIE_ENC_KEY" description:"Session cookie encryption key (optional)"`

	// Storage config
	StorageMode   string `long:"storage-mode" env:"STORAGE_MODE" default:"sqlite" choice:"memory" choice:"sqlite" choice:"s3" description:"User/credential storage backend"`
	ChallengeMode string `long:"challenge-mode" env:"CHALLENGE_MODE" default:"memory" choice:"memory" choice:"redis" description:"Challenge storage backend"`

	// SQLite storage
	SQLitePath string `long:"sqlite-path" env:"SQLITE_PATH" default:"./authcore.db" description:"SQLite database path"`

	// S3 storage
	S3 struct {
		Endpoint  string `long:"s3-endpoint" env:"S3_ENDPOINT" default:"localhost:9000" description:"S3 endpoint (host:port)"`
		Bucket    string `long:"s3-bucket" env:"S3_BUCKET" default:"polyglossa-auth" description:"S3 bucket name"`
		AccessKey string `long:"s3-access-key" env:"S3_ACCESS_KEY" default:"minioadmin" description:"S3 access key"`
		SecretKey string `long:"s3-secret-key" env:"S3_SECRET_KEY" default:"minioadmin" description:"S3 secret key"`
		UseSSL    bool   `long:"s3-use-ssl" env:"S3_USE_SSL" description:"Use SSL for S3 connections"`
	} `group:"S3 Storage Options"`

	// Redis config
	Redis struct {
		Addr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address"`
		Password string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
		DB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
	} `group:"Redis Options"`

	// Seeding
	SeedUsersFile string `long:"seed-users" env:"SEED_USERS" description:"YAML file with users to provision at startup"`
}

// LoadConfig parses configuration from environment variables and command line flags
func LoadConfig() (*Config, error) {
	var config Config

	parser := flags.NewParser(&config, flags.Default)
	parser.Usage = "[OPTIONS]"

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.SessionSecret == "" {
		return nil, fmt.Errorf("session-secret is required")
	}
	if config.CookieHashKey == "" {
		return nil, fmt.Errorf("cookie-hash-key is required")
	}

	return &config, nil
}

// SeedUser is one entry of the seed-users YAML file. Passwords are hashed
// before they reach the directory; the file itself holds plaintext only for
// local development.
type SeedUser struct {
	Username    string `yaml:"username"`
	DisplayName string `yaml:"displayName"`
	Password    string `yaml:"password"`
}

// LoadSeedUsers reads the seed-users YAML file.
func LoadSeedUsers(path string) ([]SeedUser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var users []SeedUser
	if err := yaml.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return users, nil
}
