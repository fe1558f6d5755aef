package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func TestRateLimitPerAccount(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Post("/accounts/:id/withdraw", RateLimit(cache, "withdraw", 2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	call := func(id string) int {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/accounts/"+id+"/withdraw", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := call("a1"); got != fiber.StatusCreated {
			t.Fatalf("call %d: expected %d got %d", i, fiber.StatusCreated, got)
		}
	}
	if got := call("a1"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected %d got %d", fiber.StatusTooManyRequests, got)
	}
	if got := call("a2"); got != fiber.StatusCreated {
		t.Fatalf("other account should not be limited, got %d", got)
	}

	mr.FastForward(61 * time.Second)
	if got := call("a1"); got != fiber.StatusCreated {
		t.Fatalf("expected limit to reset after the window, got %d", got)
	}
}

func TestRateLimitWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Post("/accounts/:id/purchase", RateLimit(nil, "purchase", 1), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/accounts/a1/purchase", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusCreated {
			t.Fatalf("expected pass-through, got %d", resp.StatusCode)
		}
	}
}
