package storage

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"html2image/internal/config"
	"html2image/internal/domain"
	"html2image/internal/infra/logging"
)

// ObjectStore is the storage collaborator behind Uploader.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error)
	Ping(ctx context.Context) error
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Uploader persists ImageArtifacts under generated, date-partitioned keys.
type Uploader struct {
	store         ObjectStore
	prefix        string
	uploadTimeout time.Duration
	pingTimeout   time.Duration
	now           func() time.Time
	newID         func() string
}

// NewUploader wraps store. A nil store yields an uploader whose uploads fail
// with ErrStorageNotConfigured and whose Ping reports false.
func NewUploader(store ObjectStore, cfg config.StorageConfig) *Uploader {
	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix == "" {
		prefix = "images"
	}
	return &Uploader{
		store:         store,
		prefix:        prefix,
		uploadTimeout: cfg.UploadTimeout,
		pingTimeout:   cfg.PingTimeout,
		now:           time.Now,
		newID:         func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// Configured reports whether a storage backend is attached.
func (u *Uploader) Configured() bool {
	return u != nil && u.store != nil
}

// Key returns a new object key of the form <prefix>/YYYY/MM/DD/<id>.png.
func (u *Uploader) Key() string {
	return fmt.Sprintf("%s/%s/%s.png", u.prefix, u.now().UTC().Format("2006/01/02"), u.newID())
}

// Upload stores the artifact and returns where it landed. Every failure
// wraps domain.ErrUpload.
func (u *Uploader) Upload(ctx context.Context, art *domain.ImageArtifact) (*domain.UploadResult, error) {
	if !u.Configured() {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpload, domain.ErrStorageNotConfigured)
	}
	if art == nil {
		return nil, fmt.Errorf("%w: no artifact", domain.ErrUpload)
	}

	ctx, cancel := withTimeout(ctx, u.uploadTimeout)
	defer cancel()

	key := u.Key()
	metadata := map[string]string{
		"width":  strconv.Itoa(art.Width()),
		"height": strconv.Itoa(art.Height()),
		"scale":  strconv.FormatFloat(art.Scale(), 'f', -1, 64),
	}

	start := time.Now()
	publicURL, err := u.store.Put(ctx, key, art.Bytes(), art.ContentType(), metadata)
	if err != nil {
		logging.Error("Image upload failed", "key", key, "bucket", u.store.Bucket(), "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}
	logging.Info("Image uploaded",
		"key", key,
		"bucket", u.store.Bucket(),
		"bytes", art.Size(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &domain.UploadResult{
		URL:        publicURL,
		Key:        key,
		Bucket:     u.store.Bucket(),
		UploadedAt: u.now().UTC(),
	}, nil
}

// Ping reports whether the storage backend is reachable. It never fails.
func (u *Uploader) Ping(ctx context.Context) bool {
	if !u.Configured() {
		return false
	}
	ctx, cancel := withTimeout(ctx, u.pingTimeout)
	defer cancel()
	if err := u.store.Ping(ctx); err != nil {
		logging.Warn("Storage ping failed", "bucket", u.store.Bucket(), "error", err)
		return false
	}
	return true
}

// Delete removes an image previously stored by Upload. Keys outside the
// configured prefix or not ending in .png are rejected.
func (u *Uploader) Delete(ctx context.Context, key string) error {
	if !u.Configured() {
		return domain.ErrStorageNotConfigured
	}
	if err := u.validateKey(key); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, u.uploadTimeout)
	defer cancel()
	if err := u.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}
	logging.Info("Image deleted", "key", key, "bucket", u.store.Bucket())
	return nil
}

func (u *Uploader) validateKey(key string) error {
	if key == "" || path.Clean(key) != key || strings.Contains(key, "..") {
		return fmt.Errorf("%w: invalid storage key %q", domain.ErrInvalidRequestParameters, key)
	}
	if !strings.HasPrefix(key, u.prefix+"/") || !strings.HasSuffix(key, ".png") {
		return fmt.Errorf("%w: key %q is not a managed image", domain.ErrInvalidRequestParameters, key)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
