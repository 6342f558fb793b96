package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tasksync/internal/service"
)

// Storage implements service.ObjectStore over the Storage API.
type Storage struct {
	c      *Client
	bucket string
}

// Upload implements service.ObjectStore. It returns the stored object path,
// "<bucket>/<key>".
func (s *Storage) Upload(ctx context.Context, key string, body io.Reader, opts service.UploadOptions) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty object key", service.ErrUpload)
	}

	ctx, cancel := context.WithTimeout(ctx, s.c.opts.UploadTimeout)
	defer cancel()

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := http.Header{
		"Content-Type": {contentType},
		"x-upsert":     {strconv.FormatBool(opts.Upsert)},
	}
	if opts.CacheControl != "" {
		header.Set("Cache-Control", "max-age="+opts.CacheControl)
	}

	path := "/storage/v1/object/" + url.PathEscape(s.bucket) + "/" + escapeKey(key)
	data, err := s.c.doRequest(ctx, s.c.authedClient, http.MethodPost, path, nil, header, body)
	if err != nil {
		return "", wrapError(service.ErrUpload, err)
	}

	var resp struct {
		Key string `json:"Key"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.Key == "" {
		return s.bucket + "/" + key, nil
	}
	return resp.Key, nil
}

// PublicURL implements service.ObjectStore.
func (s *Storage) PublicURL(key string) string {
	return s.c.baseURL + "/storage/v1/object/public/" + url.PathEscape(s.bucket) + "/" + escapeKey(key)
}

// escapeKey escapes each path segment of key.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
