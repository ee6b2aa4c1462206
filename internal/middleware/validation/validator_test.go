package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func testApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxQueryLength: 50}))
	app.Post("/api/v1/search", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	app.Post("/api/v1/sync", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) int {
	t.Helper()

	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestValidQueryPasses(t *testing.T) {
	app := testApp()

	if code := postJSON(t, app, "/api/v1/search", `{"query": "education budget"}`); code != fiber.StatusOK {
		t.Errorf("status = %d, want %d", code, fiber.StatusOK)
	}
}

func TestEmptyQueryRejected(t *testing.T) {
	app := testApp()

	if code := postJSON(t, app, "/api/v1/search", `{"query": "   "}`); code != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", code, fiber.StatusBadRequest)
	}
}

func TestOverlongQueryRejected(t *testing.T) {
	app := testApp()

	long := strings.Repeat("x", 51)
	if code := postJSON(t, app, "/api/v1/search", `{"query": "`+long+`"}`); code != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", code, fiber.StatusBadRequest)
	}
}

func TestMalformedJSONRejected(t *testing.T) {
	app := testApp()

	if code := postJSON(t, app, "/api/v1/search", `{"query": `); code != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", code, fiber.StatusBadRequest)
	}
}

func TestWrongContentTypeRejected(t *testing.T) {
	app := testApp()

	req := httptest.NewRequest("POST", "/api/v1/search", strings.NewReader("query=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnsupportedMediaType)
	}
}

func TestNonQueryPathsNotScreened(t *testing.T) {
	app := testApp()

	// The sync trigger has no query field; the screen must not demand one.
	if code := postJSON(t, app, "/api/v1/sync", `{}`); code != fiber.StatusOK {
		t.Errorf("status = %d, want %d", code, fiber.StatusOK)
	}
}

func TestGetRequestsNotScreened(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(Config{}))
	app.Get("/api/v1/search/history", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	req := httptest.NewRequest("GET", "/api/v1/search/history", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}
