// Package covers stores book cover images.
package covers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/logger"
)

// DefaultMaxBytes bounds an upload when the caller sets no limit.
const DefaultMaxBytes = 5 << 20

var allowed = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Store persists objects and returns their public URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, key string) error
}

// Uploader validates images before handing them to a Store.
type Uploader struct {
	store    Store
	maxBytes int64
	log      *logger.Logger
	now      func() time.Time
}

// NewUploader wraps store.
func NewUploader(store Store, maxBytes int64, log *logger.Logger) *Uploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if log == nil {
		log = logger.NewDefault("covers")
	}
	return &Uploader{store: store, maxBytes: maxBytes, log: log, now: time.Now}
}

// Upload sniffs the content type of body and stores it as the cover of bookID.
func (u *Uploader) Upload(ctx context.Context, bookID string, body io.Reader) (string, error) {
	if strings.TrimSpace(bookID) == "" {
		return "", svcerrors.InvalidInput("book id is required")
	}
	data, err := io.ReadAll(io.LimitReader(body, u.maxBytes+1))
	if err != nil {
		return "", svcerrors.InvalidInputf("read upload: %v", err)
	}
	if len(data) == 0 {
		return "", svcerrors.InvalidInput("file is empty")
	}
	if int64(len(data)) > u.maxBytes {
		return "", svcerrors.InvalidInputf("file exceeds %d bytes", u.maxBytes)
	}

	mime := mimetype.Detect(data)
	ext, ok := allowed[mime.String()]
	if !ok {
		return "", svcerrors.InvalidInputf("unsupported image type %s", mime.String())
	}

	key := fmt.Sprintf("covers/%s-%d%s", bookID, u.now().Unix(), ext)
	url, err := u.store.Put(ctx, key, mime.String(), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", svcerrors.Unavailable("store cover", err)
	}
	u.log.WithField("book_id", bookID).WithField("key", key).Info("cover uploaded")
	return url, nil
}

// LocalStore writes objects under a directory served at a public prefix.
type LocalStore struct {
	dir    string
	prefix string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir, publicPrefix string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("covers directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create covers directory: %w", err)
	}
	return &LocalStore{dir: dir, prefix: "/" + strings.Trim(publicPrefix, "/")}, nil
}

// Dir is the root served under the public prefix.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Put(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	target, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path.Join(s.prefix, key), nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}
