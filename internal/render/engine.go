// Package render turns a RenderRequest into a PNG ImageArtifact using a
// leased headless Chrome tab.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"html2image/internal/config"
	"html2image/internal/domain"
	"html2image/internal/infra/chrome"
	"html2image/internal/infra/logging"
)

// Leaser is the part of chrome.Pool the engine depends on.
type Leaser interface {
	Acquire(ctx context.Context) (*chrome.Tab, error)
	Release(tab *chrome.Tab, renderErr error)
	Healthy(ctx context.Context) bool
}

// Options bounds a single render.
type Options struct {
	AcquireTimeout    time.Duration
	LoadTimeout       time.Duration
	RenderTimeout     time.Duration
	SettleDelay       time.Duration
	MaxFullPageHeight int
	Limits            domain.Limits
}

// OptionsFromConfig projects the render and limits sections into Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		AcquireTimeout:    cfg.Render.AcquireTimeout,
		LoadTimeout:       cfg.Render.LoadTimeout,
		RenderTimeout:     cfg.Render.RenderTimeout,
		SettleDelay:       cfg.Render.SettleDelay,
		MaxFullPageHeight: cfg.Limits.MaxFullPageHeight,
		Limits:            cfg.DomainLimits(),
	}
}

// Engine renders markup into PNG artifacts.
type Engine struct {
	pool   Leaser
	driver driver
	opts   Options
}

// NewEngine returns an engine that drives tabs leased from pool.
func NewEngine(pool Leaser, opts Options) *Engine {
	return &Engine{pool: pool, driver: cdpDriver{}, opts: opts}
}

// Healthy reports whether the underlying pool can serve renders.
func (e *Engine) Healthy(ctx context.Context) bool {
	return e.pool.Healthy(ctx)
}

type phase int

const (
	phaseSetup phase = iota
	phaseLoad
	phaseCapture
)

func (p phase) String() string {
	switch p {
	case phaseSetup:
		return "setup"
	case phaseLoad:
		return "load"
	default:
		return "capture"
	}
}

// Render produces an ImageArtifact for req. The leased tab is released on
// every return path; a tab that failed with a crash or timeout is discarded
// by the pool rather than reused.
func (e *Engine) Render(ctx context.Context, req domain.RenderRequest) (_ *domain.ImageArtifact, err error) {
	if err := req.Validate(e.opts.Limits); err != nil {
		return nil, err
	}

	acquireCtx, cancelAcquire := withOptionalTimeout(ctx, e.opts.AcquireTimeout)
	tab, err := e.pool.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		logging.Warn("Chrome tab unavailable", "error", err)
		return nil, err
	}
	defer func() { e.pool.Release(tab, err) }()

	start := time.Now()

	// The render context belongs to the tab but ends with the caller.
	renderCtx, cancelRender := withOptionalTimeout(tab.Ctx, e.opts.RenderTimeout)
	defer cancelRender()
	stop := context.AfterFunc(ctx, cancelRender)
	defer stop()

	vp := viewport{Width: req.Width, Height: req.Height, Scale: req.Scale, Transparent: req.Transparent}
	if err := e.driver.SetViewport(renderCtx, vp); err != nil {
		return nil, e.classify(phaseSetup, renderCtx, nil, err)
	}

	doc := BuildDocument(req.HTML, req.CSS, req.Transparent)
	loadCtx, cancelLoad := withOptionalTimeout(renderCtx, e.opts.LoadTimeout)
	err = e.driver.Load(loadCtx, doc, e.opts.SettleDelay)
	loadErr := loadCtx.Err()
	cancelLoad()
	if err != nil {
		return nil, e.classify(phaseLoad, renderCtx, loadErr, err)
	}

	captureHeight := req.Height
	if req.FullPage {
		contentHeight, err := e.driver.ContentHeight(renderCtx)
		if err != nil {
			return nil, e.classify(phaseCapture, renderCtx, nil, err)
		}
		captureHeight = e.fullPageHeight(req.Height, contentHeight)
		if captureHeight != req.Height {
			vp.Height = captureHeight
			if err := e.driver.SetViewport(renderCtx, vp); err != nil {
				return nil, e.classify(phaseCapture, renderCtx, nil, err)
			}
		}
	}

	data, err := e.driver.Capture(renderCtx, req.Width, captureHeight)
	if err != nil {
		return nil, e.classify(phaseCapture, renderCtx, nil, err)
	}

	artifact, err := domain.NewPNGArtifact(data, req.Scale)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEngineCrash, err)
	}

	logging.Debug("Rendered image",
		"tab", tab.ID,
		"width", artifact.Width(),
		"height", artifact.Height(),
		"bytes", artifact.Size(),
		"full_page", req.FullPage,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return artifact, nil
}

// fullPageHeight grows the capture area to the content height, bounded by
// the configured maximum. It never shrinks below the requested viewport.
func (e *Engine) fullPageHeight(requested, content int) int {
	h := requested
	if content > h {
		h = content
	}
	if e.opts.MaxFullPageHeight > 0 && h > e.opts.MaxFullPageHeight {
		h = e.opts.MaxFullPageHeight
	}
	if h < requested {
		h = requested
	}
	return h
}

// classify maps a driver error to the pipeline taxonomy. loadErr is the load
// context's error at the time the load returned.
func (e *Engine) classify(p phase, renderCtx context.Context, loadErr, err error) error {
	switch {
	case chrome.IsCrash(err):
		logging.Error("Chrome tab crashed", "phase", p.String(), "error", err)
		return fmt.Errorf("%w: %w", domain.ErrEngineCrash, err)
	case renderCtx.Err() != nil:
		return fmt.Errorf("%w: %s exceeded deadline: %w", domain.ErrRenderTimeout, p, err)
	case p == phaseLoad && errors.Is(loadErr, context.DeadlineExceeded):
		return fmt.Errorf("%w: document did not finish loading within %s: %w", domain.ErrInvalidMarkup, e.opts.LoadTimeout, err)
	case p == phaseLoad:
		return fmt.Errorf("%w: %w", domain.ErrInvalidMarkup, err)
	default:
		return fmt.Errorf("%w: %s: %w", domain.ErrEngineCrash, p, err)
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
