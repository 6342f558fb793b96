// Package backend builds the service.Service selected by the settings.
package backend

import (
	"context"
	"errors"
	"fmt"

	"tasksync/internal/backend/gcs"
	"tasksync/internal/backend/local"
	"tasksync/internal/backend/supabase"
	"tasksync/internal/config"
	"tasksync/internal/credstore"
	"tasksync/internal/service"
)

// ErrConfig marks settings that cannot produce a backend.
var ErrConfig = errors.New("invalid configuration")

// New opens the backend named by cfg.Settings.Backend, replacing its object
// store when cfg.Settings.Storage names another one.
func New(ctx context.Context, cfg *config.Config) (service.Service, error) {
	s := cfg.Settings
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	var svc service.Service
	switch s.Backend {
	case config.BackendLocal:
		b, err := OpenLocal(ctx, cfg)
		if err != nil {
			return nil, err
		}
		svc = b
	default:
		c, err := supabase.New(supabaseOptions(cfg, credstore.NewFile(cfg.SessionPath())))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		svc = c
	}

	if s.StorageBackend() == s.Backend {
		return svc, nil
	}

	objects, closeObjects, err := openObjectStore(ctx, cfg)
	if err != nil {
		svc.Close()
		return nil, err
	}
	return &withStorage{Service: svc, objects: objects, closeObjects: closeObjects}, nil
}

// OpenLocal opens the self-hosted backend.
func OpenLocal(ctx context.Context, cfg *config.Config) (*local.Backend, error) {
	s := cfg.Settings
	return local.Open(ctx, local.Options{
		DSN:        s.LocalDB,
		Schema:     s.Schema,
		Table:      s.Table,
		ObjectsDir: s.LocalObjects,
		PublicURL:  s.LocalPublicURL,
		RedisAddr:  s.RedisAddr,
		JWTSecret:  s.JWTSecret,
		Sessions:   credstore.NewFile(cfg.SessionPath()),
		Logger:     cfg.Log(),
	})
}

func supabaseOptions(cfg *config.Config, sessions credstore.Storage) supabase.Options {
	s := cfg.Settings
	return supabase.Options{
		URL:      s.URL,
		AnonKey:  s.AnonKey,
		Schema:   s.Schema,
		Table:    s.Table,
		Bucket:   s.Bucket,
		Sessions: sessions,
		Logger:   cfg.Log(),
	}
}

// openObjectStore opens the attachment store named by Settings.Storage.
func openObjectStore(ctx context.Context, cfg *config.Config) (service.ObjectStore, func() error, error) {
	s := cfg.Settings
	noop := func() error { return nil }

	switch s.StorageBackend() {
	case config.StorageGCS:
		store, err := gcs.New(ctx, gcs.Options{
			Bucket:          s.GCSBucket,
			CredentialsFile: s.GCSCredentials,
			Logger:          cfg.Log(),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case config.BackendLocal:
		return local.NewDiskStore(s.LocalObjects, s.LocalPublicURL), noop, nil
	case config.BackendSupabase:
		// Uploads go out with the anon key; the bucket policy decides.
		c, err := supabase.New(supabaseOptions(cfg, &credstore.Memory{}))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		return c.ObjectStore(), c.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown storage: %s", ErrConfig, s.StorageBackend())
}

// withStorage replaces a backend's object store.
type withStorage struct {
	service.Service
	objects      service.ObjectStore
	closeObjects func() error
}

func (w *withStorage) Storage() service.ObjectStore { return w.objects }

func (w *withStorage) Close() error {
	return errors.Join(w.Service.Close(), w.closeObjects())
}
