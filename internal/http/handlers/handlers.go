// Package handlers implements the HTTP endpoints on top of the pipeline.
package handlers

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"html2image/internal/config"
	"html2image/internal/domain"
	"html2image/internal/http/respond"
	"html2image/internal/infra/chrome"
	"html2image/internal/infra/logging"
)

// Generator is the pipeline surface used by the handlers.
type Generator interface {
	Generate(ctx context.Context, req domain.RenderRequest) (domain.Result, error)
	Health(ctx context.Context) domain.Health
}

// ImageDeleter removes stored images.
type ImageDeleter interface {
	Delete(ctx context.Context, key string) error
}

// StatsProvider exposes browser pool counters.
type StatsProvider interface {
	Stats() chrome.Stats
}

// Handlers bundles configuration and dependencies for the API endpoints.
type Handlers struct {
	cfg      config.Config
	svc      Generator
	deleter  ImageDeleter
	stats    StatsProvider
	version  string
	validate *validator.Validate
}

// New builds Handlers. deleter and stats may be nil.
func New(cfg config.Config, svc Generator, deleter ImageDeleter, stats StatsProvider, version string) *Handlers {
	return &Handlers{
		cfg:      cfg,
		svc:      svc,
		deleter:  deleter,
		stats:    stats,
		version:  version,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Use JSON tag names for field names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// generateBody is the JSON request body of the generate endpoints.
type generateBody struct {
	HTML                  string   `json:"html" validate:"required"`
	CSS                   string   `json:"css"`
	Width                 *int     `json:"width" validate:"omitempty,gte=1"`
	Height                *int     `json:"height" validate:"omitempty,gte=1"`
	Scale                 *float64 `json:"scale" validate:"omitempty,gt=0"`
	FullPage              bool     `json:"full_page"`
	TransparentBackground *bool    `json:"transparent_background"`
	Transparent           *bool    `json:"transparent"`
	ResponseFormat        string   `json:"response_format" validate:"omitempty,oneof=url base64 both"`
}

// toRequest fills defaults from the render config. Bounds are checked by the
// pipeline, not here.
func (b generateBody) toRequest(cfg config.RenderConfig) (domain.RenderRequest, error) {
	mode, err := domain.ParseDeliveryMode(b.ResponseFormat)
	if err != nil {
		return domain.RenderRequest{}, err
	}
	req := domain.RenderRequest{
		HTML:     b.HTML,
		CSS:      b.CSS,
		Width:    cfg.DefaultWidth,
		Height:   cfg.DefaultHeight,
		Scale:    cfg.DefaultScale,
		FullPage: b.FullPage,
		Mode:     mode,
	}
	if b.Width != nil {
		req.Width = *b.Width
	}
	if b.Height != nil {
		req.Height = *b.Height
	}
	if b.Scale != nil {
		req.Scale = *b.Scale
	}
	switch {
	case b.TransparentBackground != nil:
		req.Transparent = *b.TransparentBackground
	case b.Transparent != nil:
		req.Transparent = *b.Transparent
	}
	return req, nil
}

func (h *Handlers) parseBody(c *fiber.Ctx) (*generateBody, error) {
	var body generateBody
	if err := c.BodyParser(&body); err != nil {
		return nil, respond.JSON(c, fiber.StatusBadRequest, respond.CodeValidation, "invalid request body: "+err.Error())
	}
	if err := h.validate.Struct(body); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]respond.Detail, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, respond.Detail{Field: fe.Field(), Message: validationMessage(fe)})
			}
			return nil, respond.JSON(c, fiber.StatusBadRequest, respond.CodeValidation, "Request validation failed", details...)
		}
		return nil, respond.JSON(c, fiber.StatusBadRequest, respond.CodeValidation, err.Error())
	}
	return &body, nil
}

// validationMessage returns a human-readable validation message
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	default:
		return "Invalid value"
	}
}

// HandleGenerate renders the body and delivers it per response_format.
func (h *Handlers) HandleGenerate(c *fiber.Ctx) error {
	body, err := h.parseBody(c)
	if body == nil {
		return err
	}
	return h.generate(c, *body)
}

// HandlePreview renders the body and always returns it inline.
func (h *Handlers) HandlePreview(c *fiber.Ctx) error {
	body, err := h.parseBody(c)
	if body == nil {
		return err
	}
	body.ResponseFormat = domain.DeliveryInline.String()
	return h.generate(c, *body)
}

func (h *Handlers) generate(c *fiber.Ctx, body generateBody) error {
	req, err := body.toRequest(h.cfg.Render)
	if err != nil {
		return respond.Error(c, err)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.svc.Generate(ctx, req)
	if err != nil {
		logging.Warn("Generate failed",
			"path", c.Path(),
			"code", respond.Code(err),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
			"error", err,
		)
		return respond.Error(c, err)
	}
	return c.JSON(res)
}

func (h *Handlers) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	timeout := h.cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(c.UserContext(), timeout)
}

// HandleDelete removes a stored image by key.
func (h *Handlers) HandleDelete(c *fiber.Ctx) error {
	if h.deleter == nil {
		return respond.Error(c, domain.ErrStorageNotConfigured)
	}
	key := strings.TrimPrefix(c.Params("*"), "/")
	ctx, cancel := h.requestContext(c)
	defer cancel()
	if err := h.deleter.Delete(ctx, key); err != nil {
		return respond.Error(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "key": key})
}

// HandleHealth reports component readiness. It always answers 200. Storage
// that is not configured does not degrade the service; only url delivery
// needs it.
func (h *Handlers) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()
	health := h.svc.Health(ctx)

	renderer := "healthy"
	if !health.Renderer {
		renderer = "unhealthy"
	}
	storage := "healthy"
	switch {
	case !health.StorageConfigured:
		storage = "not_configured"
	case !health.Storage:
		storage = "unreachable"
	}
	status := "healthy"
	if !health.Renderer || storage == "unreachable" {
		status = "degraded"
	}
	return c.JSON(fiber.Map{
		"renderer": health.Renderer,
		"storage":  health.Storage,
		"status":   status,
		"version":  h.version,
		"services": fiber.Map{
			"renderer": renderer,
			"storage":  storage,
		},
	})
}

// HandleChromeStats exposes basic observability for the Chrome pool.
func (h *Handlers) HandleChromeStats(c *fiber.Ctx) error {
	if h.stats == nil {
		return c.JSON(chrome.Stats{PoolSizeConf: h.cfg.Render.PoolSize})
	}
	return c.JSON(h.stats.Stats())
}

// HandleRoot describes the service.
func (h *Handlers) HandleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "html2image",
		"version": h.version,
		"endpoints": fiber.Map{
			"generate": "POST /api/v1/generate",
			"preview":  "POST /api/v1/generate/preview",
			"delete":   "DELETE /api/v1/images/{key}",
			"health":   "GET /api/v1/health",
			"stats":    "GET /api/v1/chrome/stats",
		},
	})
}
