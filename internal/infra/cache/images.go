// Package cache keeps recently rendered PNGs in Redis so identical requests
// skip the browser.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"html2image/internal/domain"
	"html2image/internal/infra/logging"
)

const (
	keyPrefix  = "imgcache:"
	ioTimeout  = 1 * time.Second
	defaultTTL = 1 * time.Minute
)

// ImageCache stores encoded PNG bytes keyed by the render parameters.
type ImageCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewImageCache returns a cache over rdb. A non-positive ttl selects one minute.
func NewImageCache(rdb *redis.Client, ttl time.Duration) *ImageCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ImageCache{rdb: rdb, ttl: ttl}
}

// Key creates a SHA256-based cache key from everything that affects the
// rendered pixels. The delivery mode is deliberately excluded.
func Key(req domain.RenderRequest) string {
	h := sha256.New()
	h.Write([]byte(req.HTML))
	h.Write([]byte{0})
	h.Write([]byte(req.CSS))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(req.Width)))
	h.Write([]byte{'x'})
	h.Write([]byte(strconv.Itoa(req.Height)))
	h.Write([]byte{'@'})
	h.Write([]byte(strconv.FormatFloat(req.Scale, 'f', 4, 64)))
	h.Write([]byte(strconv.FormatBool(req.FullPage)))
	h.Write([]byte(strconv.FormatBool(req.Transparent)))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached bytes for req, or nil on a miss. Errors are logged
// and reported as a miss.
func (c *ImageCache) Get(ctx context.Context, req domain.RenderRequest) []byte {
	if c == nil || c.rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, ioTimeout)
	defer cancel()

	key := Key(req)
	cached, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return nil
	}
	logging.Info("Image cache hit", "key", key)
	return cached
}

// Set stores data for req. Failures are logged only.
func (c *ImageCache) Set(ctx context.Context, req domain.RenderRequest, data []byte) {
	if c == nil || c.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, ioTimeout)
	defer cancel()

	if err := c.rdb.Set(ctx, Key(req), data, c.ttl).Err(); err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}
