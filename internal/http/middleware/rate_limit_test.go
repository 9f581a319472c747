package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
)

type fakeTokenRater struct{ limit int }

func (f fakeTokenRater) RateLimit(token string) int { return f.limit }

func TestTokenRateLimit_Enforced(t *testing.T) {
	app := fiber.New()
	store := memoryStorage.New()
	cfg := RateLimitConfig{
		RateInterval:           time.Hour,
		EnableTokenRateLimiter: true,
	}
	cache := NewLimiterCache()

	// Pretend auth already happened
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(APIKeyLocal, "abc")
		return c.Next()
	})
	app.Use(TokenRateLimit(cfg, fakeTokenRater{limit: 1}, store, cache))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req, _ := http.NewRequest(http.MethodGet, "/", nil)

	resp1, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp1.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp1.StatusCode)
	}

	resp2, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp2.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp2.StatusCode)
	}
}

func TestTokenRateLimit_Disabled(t *testing.T) {
	app := fiber.New()
	cfg := RateLimitConfig{RateInterval: time.Hour}

	app.Use(func(c *fiber.Ctx) error {
		c.Locals(APIKeyLocal, "abc")
		return c.Next()
	})
	app.Use(TokenRateLimit(cfg, fakeTokenRater{limit: 1}, memoryStorage.New(), NewLimiterCache()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	}
}

func TestLimiterCache_SharesHandlerPerLimit(t *testing.T) {
	lc := NewLimiterCache()
	builds := 0
	build := func() fiber.Handler {
		builds++
		return func(c *fiber.Ctx) error { return nil }
	}
	lc.get(5, build)
	lc.get(5, build)
	lc.get(7, build)
	if builds != 2 {
		t.Fatalf("expected 2 limiter builds, got %d", builds)
	}
}

func TestUserRateLimit_PublicLimitedButTokenBypasses(t *testing.T) {
	app := fiber.New()
	cfg := RateLimitConfig{
		RateInterval:      time.Hour,
		EnableUserLimiter: true,
		UserLimit:         1,
	}

	app.Use(UserRateLimit(cfg, memoryStorage.New()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	publicReq, _ := http.NewRequest(http.MethodGet, "/", nil)
	publicReq.Header.Set("User-Agent", "public-client")
	resp1, err := app.Test(publicReq)
	if err != nil {
		t.Fatalf("public request failed: %v", err)
	}
	if resp1.StatusCode != fiber.StatusOK {
		t.Fatalf("expected first public request to pass, got %d", resp1.StatusCode)
	}

	resp2, err := app.Test(publicReq)
	if err != nil {
		t.Fatalf("public request failed: %v", err)
	}
	if resp2.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected second public request to be rate limited, got %d", resp2.StatusCode)
	}

	appWithToken := fiber.New()
	appWithToken.Use(func(c *fiber.Ctx) error {
		c.Locals(APIKeyLocal, c.Get("X-API-Key"))
		return c.Next()
	})
	appWithToken.Use(UserRateLimit(cfg, memoryStorage.New()))
	appWithToken.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 3; i++ {
		tokenReq, _ := http.NewRequest(http.MethodGet, "/", nil)
		tokenReq.Header.Set("User-Agent", "public-client")
		tokenReq.Header.Set("X-API-Key", "abc")
		resp, err := appWithToken.Test(tokenReq)
		if err != nil {
			t.Fatalf("token request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected token request %d to bypass user limiter, got %d", i+1, resp.StatusCode)
		}
	}
}
