// Package middleware holds the global fiber middleware stack.
package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	"github.com/rs/xid"

	"html2image/internal/config"
	"html2image/internal/domain"
	"html2image/internal/http/respond"
	"html2image/internal/infra/logging"
	"html2image/internal/tokens"
)

// APIKeyLocal is the fiber.Ctx locals key holding the authenticated token.
const APIKeyLocal = "api_key"

// Deps are the collaborators the middleware stack needs. Zero values are
// valid: without Tokens no API keys are checked, without Store limits are
// kept in memory.
type Deps struct {
	Tokens *tokens.Cache
	Store  fiber.Storage
	// Ready backs the /readyz probe; nil means always ready.
	Ready func() bool
}

// Register attaches global middleware to the app.
func Register(app *fiber.App, cfg config.Config, deps Deps) {
	store := deps.Store
	if store == nil {
		store = memoryStorage.New()
	}

	app.Use(recover.New())
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		ReadinessProbe: func(c *fiber.Ctx) bool {
			return deps.Ready == nil || deps.Ready()
		},
	}))

	if deps.Tokens != nil || cfg.Auth.RequireAPIKey {
		app.Use(KeyAuth(deps.Tokens, cfg.Auth.RequireAPIKey))
	}

	rl := RateLimitConfig{
		RateInterval:           cfg.RateLimiter.Interval,
		EnableTokenRateLimiter: deps.Tokens != nil,
		EnableUserLimiter:      cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0,
		UserLimit:              cfg.RateLimiter.UserLimit,
	}
	if deps.Tokens != nil {
		app.Use(TokenRateLimit(rl, deps.Tokens, store, NewLimiterCache()))
	}
	if rl.EnableUserLimiter {
		app.Use(UserRateLimit(rl, store))
	}

	app.Use(RequestLogger())
}

// KeyAuth validates X-API-Key against the token cache. Requests without a
// key pass through unless required is set.
func KeyAuth(cache *tokens.Cache, required bool) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: APIKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			// Provide a clear signal when the token store is not loaded yet.
			if cache == nil || !cache.Ready() {
				return false, domain.ErrTokenStoreNotReady
			}
			if !cache.Validate(key) {
				return false, domain.ErrInvalidAPIKey
			}
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			if c.Method() == fiber.MethodOptions || isProbe(c.Path()) {
				return true
			}
			return !required && c.Get("X-API-Key") == ""
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Keyauth can call ErrorHandler with a nil error.
			if errors.Is(err, domain.ErrTokenStoreNotReady) {
				return respond.JSON(c, fiber.StatusServiceUnavailable, respond.CodeTokenStoreNotReady, err.Error())
			}
			msg := "missing or malformed API key"
			if err != nil && !errors.Is(err, keyauth.ErrMissingOrMalformedAPIKey) {
				msg = err.Error()
			}
			return respond.JSON(c, fiber.StatusUnauthorized, respond.CodeUnauthorized, msg)
		},
	})
}

func isProbe(path string) bool {
	return path == healthcheck.DefaultLivenessEndpoint || path == healthcheck.DefaultReadinessEndpoint
}

// RequestLogger logs one line per request after it completes. Errors from
// the chain are handed to the app's ErrorHandler first so the logged status
// is the one the client receives.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		logging.Info("Request handled",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"request_id", requestID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}
}
