package tokens

import (
	"context"
	"time"

	"html2image/internal/infra/logging"
)

// Reloader refreshes a Cache from a Repository. A failed load keeps the
// previous snapshot.
type Reloader struct {
	repo     Repository
	cache    *Cache
	interval time.Duration
}

func NewReloader(repo Repository, cache *Cache, interval time.Duration) *Reloader {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reloader{repo: repo, cache: cache, interval: interval}
}

// LoadOnce performs a single reload.
func (r *Reloader) LoadOnce(ctx context.Context) error {
	m, err := r.repo.LoadTokens(ctx)
	if err != nil {
		return err
	}
	r.cache.Replace(m)
	return nil
}

// Start reloads every interval until ctx is done.
func (r *Reloader) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.LoadOnce(ctx); err != nil {
					logging.Error("Failed to reload API tokens", "error", err)
					continue
				}
				logging.Debug("API tokens reloaded", "count", r.cache.Len())
			case <-ctx.Done():
				return
			}
		}
	}()
}
