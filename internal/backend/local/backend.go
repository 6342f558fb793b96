// Package local implements service.Service without a hosted project: tasks
// and accounts in sqlite, tokens signed locally, changes fanned out in
// process or over Redis, and attachments on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/rueidis"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"tasksync/internal/credstore"
	"tasksync/internal/service"
)

// Options configures a Backend.
type Options struct {
	// DSN is the sqlite database path or URI.
	DSN string

	Schema string
	Table  string

	// ObjectsDir holds uploaded attachments; PublicURL is where the serve
	// command exposes them.
	ObjectsDir string
	PublicURL  string

	// RedisAddr enables the cross-process change feed. Empty keeps changes
	// in process.
	RedisAddr string

	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int

	// Sessions persists the session between runs. Defaults to memory.
	Sessions credstore.Storage

	Logger *slog.Logger
}

// Backend implements service.Service on local storage.
type Backend struct {
	db      *gorm.DB
	tokens  *Tokens
	auth    *Auth
	store   *Store
	feed    Feed
	objects *DiskStore
	redis   rueidis.Client
	logger  *slog.Logger
}

// Open opens the database and wires the backend.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	if opts.DSN == "" {
		return nil, errors.New("local database path must not be empty")
	}
	if opts.JWTSecret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	if opts.Table == "" {
		opts.Table = "tasks"
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Sessions == nil {
		opts.Sessions = &credstore.Memory{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	db, err := OpenDB(opts.DSN, opts.Table)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		db:      db,
		tokens:  NewTokens(opts.JWTSecret, opts.AccessTTL, opts.RefreshTTL),
		objects: NewDiskStore(opts.ObjectsDir, opts.PublicURL),
		logger:  opts.Logger,
	}

	if opts.RedisAddr != "" {
		client, err := NewRedisClient(opts.RedisAddr)
		if err != nil {
			b.closeDB()
			return nil, err
		}
		if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
			client.Close()
			b.closeDB()
			return nil, fmt.Errorf("redis unreachable at %s: %w", opts.RedisAddr, err)
		}
		b.redis = client
		b.feed = NewRedisFeed(client, opts.Logger)
	} else {
		b.feed = NewHub(opts.Logger)
	}

	b.auth, err = newAuth(db, b.tokens, opts.Sessions, opts.BcryptCost, opts.Logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.store = &Store{
		db:     db,
		schema: opts.Schema,
		table:  opts.Table,
		auth:   b.auth,
		feed:   b.feed,
		logger: opts.Logger,
	}
	return b, nil
}

// Auth implements service.Service.
func (b *Backend) Auth() service.Auth { return b.auth }

// Tasks implements service.Service.
func (b *Backend) Tasks() service.TaskStore { return b.store }

// Changes implements service.Service.
func (b *Backend) Changes() service.ChangeFeed { return b.feed }

// Storage implements service.Service.
func (b *Backend) Storage() service.ObjectStore { return b.objects }

// Close releases the Redis connection and the database.
func (b *Backend) Close() error {
	if b.redis != nil {
		b.redis.Close()
	}
	return b.closeDB()
}

func (b *Backend) closeDB() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
