package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendSupabase = "supabase"
	BackendLocal    = "local"
	StorageGCS      = "gcs"
)

// EnvPrefix prefixes every settings environment variable.
const EnvPrefix = "TASKSYNC_"

// Settings are the project settings: which backend to talk to and how.
type Settings struct {
	// Backend is "supabase" (hosted) or "local" (self-hosted development backend).
	Backend string `yaml:"backend"`

	// URL and AnonKey address the hosted project.
	URL     string `yaml:"url"`
	AnonKey string `yaml:"anon_key"`

	Schema  string `yaml:"schema"`
	Table   string `yaml:"table"`
	Channel string `yaml:"channel"`

	// Bucket is the attachment bucket on the hosted backend.
	Bucket string `yaml:"bucket"`

	// Storage overrides the attachment store: "supabase", "gcs" or "local".
	// Empty means the backend's own store.
	Storage        string `yaml:"storage"`
	GCSBucket      string `yaml:"gcs_bucket"`
	GCSCredentials string `yaml:"gcs_credentials"`

	LocalDB        string `yaml:"local_db"`
	LocalObjects   string `yaml:"local_objects"`
	LocalPublicURL string `yaml:"local_public_url"`
	RedisAddr      string `yaml:"redis_addr"`
	JWTSecret      string `yaml:"jwt_secret"`

	ServeAddr          string `yaml:"serve_addr"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings(dir string) Settings {
	return Settings{
		Backend:            BackendSupabase,
		Schema:             "public",
		Table:              "tasks",
		Channel:            "tasks-channel",
		Bucket:             "todo-images",
		LocalDB:            filepath.Join(dir, "tasks.db"),
		LocalObjects:       filepath.Join(dir, "objects"),
		ServeAddr:          "127.0.0.1:8080",
		RateLimitPerMinute: 60,
	}
}

// Load populates c.Settings from, in increasing precedence: defaults,
// config.yaml in the config dir, and TASKSYNC_* environment variables.
// .env files in the working directory and the config dir are loaded into the
// environment first; they never override variables already set.
func (c *Config) Load() error {
	s := DefaultSettings(c.Dir)

	data, err := os.ReadFile(c.SettingsPath())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid %s: %w", SettingsFile, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to read %s: %w", SettingsFile, err)
	}

	var envFiles []string
	for _, path := range []string{EnvFile, filepath.Join(c.Dir, EnvFile)} {
		if _, err := os.Stat(path); err == nil {
			envFiles = append(envFiles, path)
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return fmt.Errorf("failed to load %s: %w", EnvFile, err)
		}
	}

	if err := s.applyEnv(); err != nil {
		return err
	}
	if s.LocalPublicURL == "" {
		s.LocalPublicURL = "http://" + s.ServeAddr
	}

	c.Settings = s
	return nil
}

func (s *Settings) applyEnv() error {
	strs := map[string]*string{
		"BACKEND":          &s.Backend,
		"URL":              &s.URL,
		"ANON_KEY":         &s.AnonKey,
		"SCHEMA":           &s.Schema,
		"TABLE":            &s.Table,
		"CHANNEL":          &s.Channel,
		"BUCKET":           &s.Bucket,
		"STORAGE":          &s.Storage,
		"GCS_BUCKET":       &s.GCSBucket,
		"GCS_CREDENTIALS":  &s.GCSCredentials,
		"LOCAL_DB":         &s.LocalDB,
		"LOCAL_OBJECTS":    &s.LocalObjects,
		"LOCAL_PUBLIC_URL": &s.LocalPublicURL,
		"REDIS_ADDR":       &s.RedisAddr,
		"JWT_SECRET":       &s.JWTSecret,
		"SERVE_ADDR":       &s.ServeAddr,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer value for %sRATE_LIMIT_PER_MINUTE", EnvPrefix)
		}
		s.RateLimitPerMinute = n
	}
	return nil
}

// StorageBackend returns the effective attachment store name.
func (s Settings) StorageBackend() string {
	if s.Storage == "" {
		return s.Backend
	}
	return s.Storage
}

// Validate checks that the selected backend has what it needs.
func (s Settings) Validate() error {
	switch s.Backend {
	case BackendSupabase:
		if s.URL == "" {
			return errors.New("url must not be empty (set TASKSYNC_URL or url in config.yaml)")
		}
		if s.AnonKey == "" {
			return errors.New("anon_key must not be empty (set TASKSYNC_ANON_KEY or anon_key in config.yaml)")
		}
	case BackendLocal:
		if s.LocalDB == "" {
			return errors.New("local_db must not be empty")
		}
		if s.JWTSecret == "" {
			return errors.New("jwt_secret must not be empty for the local backend")
		}
	default:
		return fmt.Errorf("unknown backend: %s", s.Backend)
	}

	if s.Table == "" {
		return errors.New("table must not be empty")
	}

	switch s.StorageBackend() {
	case BackendSupabase:
		if s.URL == "" || s.AnonKey == "" {
			return errors.New("supabase storage requires url and anon_key")
		}
		if s.Bucket == "" {
			return errors.New("bucket must not be empty")
		}
	case BackendLocal:
		if s.LocalObjects == "" {
			return errors.New("local_objects must not be empty")
		}
	case StorageGCS:
		if s.GCSBucket == "" {
			return errors.New("gcs_bucket must not be empty")
		}
	default:
		return fmt.Errorf("unknown storage: %s", s.StorageBackend())
	}

	if s.RateLimitPerMinute <= 0 {
		return errors.New("rate_limit_per_minute must be greater than 0")
	}
	return nil
}
