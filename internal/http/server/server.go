// Package server assembles the fiber application: global middleware, API
// routes and JSON error handling.
package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"html2image/internal/config"
	"html2image/internal/http/handlers"
	"html2image/internal/http/middleware"
	"html2image/internal/http/respond"
	"html2image/internal/infra/logging"
	"html2image/internal/tokens"
)

// Deps collects everything the HTTP layer needs. Deleter, Stats, Tokens,
// Store and Ready may be nil.
type Deps struct {
	Config  config.Config
	Service handlers.Generator
	Deleter handlers.ImageDeleter
	Stats   handlers.StatsProvider
	Tokens  *tokens.Cache
	Store   fiber.Storage
	Ready   func() bool
	Version string
}

// New creates and configures the fiber app.
func New(deps Deps) *fiber.App {
	cfg := deps.Config
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             cfg.Server.BodyLimitBytes,
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app, cfg, middleware.Deps{
		Tokens: deps.Tokens,
		Store:  deps.Store,
		Ready:  deps.Ready,
	})
	registerRoutes(app, deps)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func registerRoutes(app *fiber.App, deps Deps) {
	h := handlers.New(deps.Config, deps.Service, deps.Deleter, deps.Stats, deps.Version)

	app.Get("/", h.HandleRoot)

	v1 := app.Group("/api/v1")
	v1.Post("/generate", h.HandleGenerate)
	v1.Post("/generate/preview", h.HandlePreview)
	// Deleting is never anonymous: without a token store the route does not exist.
	if deps.Tokens != nil {
		v1.Delete("/images/*", middleware.KeyAuth(deps.Tokens, true), h.HandleDelete)
	}
	v1.Get("/health", h.HandleHealth)
	v1.Get("/chrome/stats", h.HandleChromeStats)

	v1.Get("/monitor", monitor.New())
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		status = e.Code
		msg = e.Message
	}

	logging.Warn("Request failed", "path", c.Path(), "status", status, "message", msg)

	return respond.JSON(c, status, respond.CodeForStatus(status), msg)
}
