package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"html2image/internal/http/respond"
	"html2image/internal/infra/logging"
)

// RateLimitConfig selects which limiters run.
type RateLimitConfig struct {
	RateInterval           time.Duration
	EnableTokenRateLimiter bool
	EnableUserLimiter      bool
	UserLimit              int
}

// TokenRater returns the per-interval limit for an API token; 0 means unlimited.
type TokenRater interface {
	RateLimit(token string) int
}

// LimiterCache shares one limiter handler per distinct limit value.
type LimiterCache struct {
	mu       sync.RWMutex
	handlers map[int]fiber.Handler
}

func NewLimiterCache() *LimiterCache {
	return &LimiterCache{handlers: make(map[int]fiber.Handler)}
}

func (lc *LimiterCache) get(limit int, build func() fiber.Handler) fiber.Handler {
	lc.mu.RLock()
	h, ok := lc.handlers[limit]
	lc.mu.RUnlock()
	if ok {
		return h
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if h, ok := lc.handlers[limit]; ok {
		return h
	}
	h = build()
	lc.handlers[limit] = h
	return h
}

func tooManyRequests(c *fiber.Ctx) error {
	return respond.JSON(c, fiber.StatusTooManyRequests, respond.CodeRateLimited, "Too Many Requests")
}

// TokenRateLimit applies per-token sliding-window limits to authenticated requests.
func TokenRateLimit(cfg RateLimitConfig, rater TokenRater, store fiber.Storage, cache *LimiterCache) fiber.Handler {
	if !cfg.EnableTokenRateLimiter || rater == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	interval := cfg.RateInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals(APIKeyLocal).(string)
		if !ok || token == "" {
			return c.Next()
		}
		limit := rater.RateLimit(token)
		if limit <= 0 {
			return c.Next()
		}
		h := cache.get(limit, func() fiber.Handler {
			return limiter.New(limiter.Config{
				Max:               limit,
				Expiration:        interval,
				LimiterMiddleware: limiter.SlidingWindow{},
				Storage:           store,
				KeyGenerator: func(c *fiber.Ctx) string {
					token, _ := c.Locals(APIKeyLocal).(string)
					return "token:" + token
				},
				LimitReached: func(c *fiber.Ctx) error {
					token, _ := c.Locals(APIKeyLocal).(string)
					logging.Warn("Rate limit exceeded", "token", token, "path", c.Path())
					return tooManyRequests(c)
				},
			})
		})
		return h(c)
	}
}

func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

// UserRateLimit limits anonymous clients by IP and User-Agent. Requests that
// authenticated with an API key skip it; token limits apply to them instead.
func UserRateLimit(cfg RateLimitConfig, store fiber.Storage) fiber.Handler {
	if !cfg.EnableUserLimiter || cfg.UserLimit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	interval := cfg.RateInterval
	if interval <= 0 {
		interval = time.Minute
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               cfg.UserLimit,
		Expiration:        interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           store,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "user:" + clientKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "user", clientKey(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	return func(c *fiber.Ctx) error {
		if token, ok := c.Locals(APIKeyLocal).(string); ok && token != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}
