// Package pipeline wires rendering, persistence and response assembly into
// the generate and health operations.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"html2image/internal/domain"
	"html2image/internal/infra/logging"
)

// Renderer produces artifacts; implemented by render.Engine.
type Renderer interface {
	Render(ctx context.Context, req domain.RenderRequest) (*domain.ImageArtifact, error)
	Healthy(ctx context.Context) bool
}

// Uploader persists artifacts; implemented by storage.Uploader.
type Uploader interface {
	Upload(ctx context.Context, art *domain.ImageArtifact) (*domain.UploadResult, error)
	Ping(ctx context.Context) bool
}

// Assembler shapes results; implemented by delivery.Assembler.
type Assembler interface {
	Assemble(art *domain.ImageArtifact, upload *domain.UploadResult, mode domain.DeliveryMode) (domain.Result, error)
}

// ImageCache short-circuits identical renders; implemented by cache.ImageCache.
type ImageCache interface {
	Get(ctx context.Context, req domain.RenderRequest) []byte
	Set(ctx context.Context, req domain.RenderRequest, data []byte)
}

// Service runs the render-and-deliver pipeline.
type Service struct {
	renderer  Renderer
	uploader  Uploader
	assembler Assembler
	cache     ImageCache
	limits    domain.Limits
}

// Option configures optional collaborators.
type Option func(*Service)

// WithImageCache enables the rendered-image cache.
func WithImageCache(c ImageCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLimits bounds requests before the cache is consulted.
func WithLimits(l domain.Limits) Option {
	return func(s *Service) { s.limits = l }
}

// NewService builds a Service.
func NewService(r Renderer, u Uploader, a Assembler, opts ...Option) *Service {
	s := &Service{renderer: r, uploader: u, assembler: a}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate renders req and delivers it according to req.Mode. Storage is
// touched only when the mode needs a URL, and a failed upload fails the call.
func (s *Service) Generate(ctx context.Context, req domain.RenderRequest) (domain.Result, error) {
	start := time.Now()

	if err := req.Validate(s.limits); err != nil {
		return domain.Result{}, err
	}
	art, cached, err := s.render(ctx, req)
	if err != nil {
		logging.Warn("Render failed", "code", domain.Code(err), "error", err)
		return domain.Result{}, err
	}

	var upload *domain.UploadResult
	if req.Mode.NeedsUpload() {
		if s.uploader == nil {
			return domain.Result{}, fmt.Errorf("%w: %w", domain.ErrUpload, domain.ErrStorageNotConfigured)
		}
		upload, err = s.uploader.Upload(ctx, art)
		if err != nil {
			return domain.Result{}, err
		}
	}

	res, err := s.assembler.Assemble(art, upload, req.Mode)
	if err != nil {
		return domain.Result{}, err
	}

	logging.Info("Image generated",
		"mode", req.Mode.String(),
		"width", art.Width(),
		"height", art.Height(),
		"bytes", art.Size(),
		"cached", cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Service) render(ctx context.Context, req domain.RenderRequest) (*domain.ImageArtifact, bool, error) {
	if s.cache != nil {
		if data := s.cache.Get(ctx, req); data != nil {
			art, err := domain.NewPNGArtifact(data, req.Scale)
			if err == nil {
				return art, true, nil
			}
			logging.Warn("Discarding undecodable cache entry", "error", err)
		}
	}

	art, err := s.renderer.Render(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, req, art.Bytes())
	}
	return art, false, nil
}

// Health reports component readiness. It never renders and never fails.
func (s *Service) Health(ctx context.Context) domain.Health {
	h := domain.Health{Renderer: s.renderer != nil && s.renderer.Healthy(ctx)}
	if s.uploader != nil {
		h.StorageConfigured = true
		h.Storage = s.uploader.Ping(ctx)
	}
	return h
}
