package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"tasksync/internal/service"
)

const (
	// AttachmentCacheControl is the cache lifetime hint sent with uploads, in seconds.
	AttachmentCacheControl = "3600"
)

// Attachment is a file staged for upload.
type Attachment struct {
	// Name is the file's base name.
	Name        string
	ContentType string
	Body        io.Reader
}

// AttachmentKey returns the storage key for a file named name uploaded at now.
// Two uploads of the same name in the same millisecond collide.
func AttachmentKey(name string, now time.Time) string {
	return fmt.Sprintf("%s-%d", name, now.UnixMilli())
}

// UploadAttachment stores att under a key derived from its name and now,
// overwriting any object with the same key, and returns the object's public
// URL. Failures are logged and returned with an empty URL.
func UploadAttachment(ctx context.Context, objects service.ObjectStore, att Attachment, now time.Time, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if objects == nil {
		err := fmt.Errorf("%w: no object store configured", service.ErrUpload)
		logger.Error("upload error", "error", err)
		return "", err
	}
	if att.Body == nil {
		err := fmt.Errorf("%w: empty attachment", service.ErrUpload)
		logger.Error("upload error", "error", err)
		return "", err
	}

	key := AttachmentKey(att.Name, now)
	path, err := objects.Upload(ctx, key, att.Body, service.UploadOptions{
		ContentType:  att.ContentType,
		CacheControl: AttachmentCacheControl,
		Upsert:       true,
	})
	if err != nil {
		if !errors.Is(err, service.ErrUpload) {
			err = fmt.Errorf("%w: %w", service.ErrUpload, err)
		}
		logger.Error("upload error", "key", key, "error", err)
		return "", err
	}
	logger.Info("upload successful", "path", path)

	url := objects.PublicURL(key)
	logger.Info("public url", "url", url)
	return url, nil
}
