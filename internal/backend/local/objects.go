package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"tasksync/internal/service"
)

const metaSuffix = ".meta.json"

// ErrObjectExists is returned when uploading over an existing object without upsert.
var ErrObjectExists = errors.New("object already exists")

// ObjectMeta is stored beside each object.
type ObjectMeta struct {
	ContentType  string `json:"content_type"`
	CacheControl string `json:"cache_control,omitempty"`
}

// DiskStore implements service.ObjectStore in a directory. Objects are
// served by the serve command under /objects/.
type DiskStore struct {
	dir        string
	publicBase string

	mu sync.Mutex
}

// NewDiskStore creates a store rooted at dir. publicBase is the URL the
// serve command listens on.
func NewDiskStore(dir, publicBase string) *DiskStore {
	return &DiskStore{dir: dir, publicBase: strings.TrimRight(publicBase, "/")}
}

// objectPath maps key to a file under the store directory.
func (d *DiskStore) objectPath(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if key == "" || clean != key || strings.HasSuffix(key, metaSuffix) {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(d.dir, filepath.FromSlash(clean)), nil
}

// Upload implements service.ObjectStore.
func (d *DiskStore) Upload(ctx context.Context, key string, body io.Reader, opts service.UploadOptions) (string, error) {
	target, err := d.objectPath(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", service.ErrUpload, err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", service.ErrUpload, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !opts.Upsert {
		if _, err := os.Stat(target); err == nil {
			return "", fmt.Errorf("%w: %w", service.ErrUpload, ErrObjectExists)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return "", fmt.Errorf("%w: %w", service.ErrUpload, err)
	}

	if err := writeAtomic(target, body); err != nil {
		return "", fmt.Errorf("%w: %w", service.ErrUpload, err)
	}

	meta, err := json.Marshal(ObjectMeta{ContentType: opts.ContentType, CacheControl: opts.CacheControl})
	if err != nil {
		return "", fmt.Errorf("%w: %w", service.ErrUpload, err)
	}
	if err := writeAtomic(target+metaSuffix, strings.NewReader(string(meta))); err != nil {
		return "", fmt.Errorf("%w: %w", service.ErrUpload, err)
	}
	return key, nil
}

func writeAtomic(target string, body io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// PublicURL implements service.ObjectStore.
func (d *DiskStore) PublicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return d.publicBase + "/objects/" + strings.Join(segments, "/")
}

// Open returns the object stored under key and its metadata.
func (d *DiskStore) Open(key string) (*os.File, ObjectMeta, error) {
	target, err := d.objectPath(key)
	if err != nil {
		return nil, ObjectMeta{}, err
	}

	var meta ObjectMeta
	if data, err := os.ReadFile(target + metaSuffix); err == nil {
		_ = json.Unmarshal(data, &meta)
	}

	f, err := os.Open(target)
	if err != nil {
		return nil, ObjectMeta{}, err
	}
	return f, meta, nil
}
