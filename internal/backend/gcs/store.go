// Package gcs implements service.ObjectStore on a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"tasksync/internal/service"
)

const (
	// APITimeout is the timeout for API calls.
	APITimeout = 30 * time.Second

	// DefaultPublicBaseURL serves public objects.
	DefaultPublicBaseURL = "https://storage.googleapis.com"
)

// Options configures a Store.
type Options struct {
	Bucket string

	// CredentialsFile is a service account or authorized user JSON file.
	// Empty uses application default credentials.
	CredentialsFile string

	// HTTPClient and Endpoint replace the default transport (for testing).
	HTTPClient *http.Client
	Endpoint   string

	// PublicBaseURL prefixes public object URLs.
	PublicBaseURL string

	Logger *slog.Logger
}

// Store implements service.ObjectStore using the Cloud Storage JSON API.
type Store struct {
	svc        *storage.Service
	bucket     string
	publicBase string
	logger     *slog.Logger
}

// New creates a Store.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs bucket must not be empty")
	}
	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = DefaultPublicBaseURL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var clientOpts []option.ClientOption
	switch {
	case opts.HTTPClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	case opts.CredentialsFile != "":
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read gcs credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, storage.DevstorageReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("invalid gcs credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	default:
		creds, err := google.FindDefaultCredentials(ctx, storage.DevstorageReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("no gcs credentials (set gcs_credentials): %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := storage.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	return &Store{
		svc:        svc,
		bucket:     opts.Bucket,
		publicBase: strings.TrimRight(opts.PublicBaseURL, "/"),
		logger:     opts.Logger,
	}, nil
}

// Upload implements service.ObjectStore. Without Upsert, an existing object
// with the same key is not replaced.
func (s *Store) Upload(ctx context.Context, key string, body io.Reader, opts service.UploadOptions) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty object key", service.ErrUpload)
	}

	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	obj := &storage.Object{Name: key, ContentType: opts.ContentType}
	if opts.CacheControl != "" {
		obj.CacheControl = "public, max-age=" + opts.CacheControl
	}

	var media []googleapi.MediaOption
	if opts.ContentType != "" {
		media = append(media, googleapi.ContentType(opts.ContentType))
	}

	call := s.svc.Objects.Insert(s.bucket, obj).Media(body, media...).Context(ctx)
	if !opts.Upsert {
		call = call.IfGenerationMatch(0)
	}

	stored, err := call.Do()
	if err != nil {
		return "", wrapError(err)
	}
	s.logger.Debug("gcs object stored", "bucket", s.bucket, "key", stored.Name, "size", stored.Size)
	return s.bucket + "/" + stored.Name, nil
}

// PublicURL implements service.ObjectStore.
func (s *Store) PublicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicBase + "/" + url.PathEscape(s.bucket) + "/" + strings.Join(segments, "/")
}

// wrapError wraps API errors with user-friendly messages.
func wrapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out", service.ErrUpload)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: gcs credentials rejected: %w", service.ErrUpload, err)
		case http.StatusPreconditionFailed:
			return fmt.Errorf("%w: object already exists: %w", service.ErrUpload, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: bucket not found: %w", service.ErrUpload, err)
		}
	}
	return fmt.Errorf("%w: %w", service.ErrUpload, err)
}
