package covers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	svcerrors "github.com/qltv/library_service/internal/errors"
)

// 1x1 transparent PNG.
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func newUploader(t *testing.T, max int64) (*Uploader, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/uploads")
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	u := NewUploader(store, max, nil)
	u.now = func() time.Time { return time.Unix(1700000000, 0) }
	return u, dir
}

func TestUploadStoresPNG(t *testing.T) {
	u, dir := newUploader(t, 0)

	url, err := u.Upload(context.Background(), "12", bytes.NewReader(pngPixel))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "/uploads/covers/12-1700000000.png" {
		t.Fatalf("unexpected url %s", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, "covers", "12-1700000000.png"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(data, pngPixel) {
		t.Fatalf("stored bytes differ")
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	u, _ := newUploader(t, 0)
	_, err := u.Upload(context.Background(), "12", strings.NewReader("plain text, not an image"))
	if !svcerrors.HasCode(err, svcerrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUploadRejectsOversize(t *testing.T) {
	u, _ := newUploader(t, 16)
	_, err := u.Upload(context.Background(), "12", bytes.NewReader(pngPixel))
	if !svcerrors.HasCode(err, svcerrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestLocalStoreKeepsKeysInsideDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "root"), "uploads")
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	url, err := store.Put(context.Background(), "../escape.png", "image/png", bytes.NewReader(pngPixel), int64(len(pngPixel)))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "/uploads/escape.png" {
		t.Fatalf("unexpected url %s", url)
	}
	if _, err := os.Stat(filepath.Join(dir, "root", "escape.png")); err != nil {
		t.Fatalf("file not inside root: %v", err)
	}
	if err := store.Delete(context.Background(), "../escape.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
