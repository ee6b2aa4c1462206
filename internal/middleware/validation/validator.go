// Package validation screens request bodies before they reach the handlers.
// Storage access is fully parameterized, so the screen enforces shape and
// size, not content blacklists.
package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type Config struct {
	MaxQueryLength int
}

// queryPaths are the endpoints whose bodies carry a user query that fans out
// to embedding and LLM calls.
var queryPaths = []string{"/api/v1/search", "/api/v1/ask"}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 2000
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get("Content-Type"); contentType != "" {
			if !strings.Contains(contentType, "application/json") {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		if isQueryPath(c.Path()) {
			var req struct {
				Query string `json:"query"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			query := strings.TrimSpace(req.Query)
			if query == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query is required",
				})
			}
			if len(query) > cfg.MaxQueryLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query exceeds maximum length",
				})
			}
			if strings.ContainsRune(query, '\x00') {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid query content",
				})
			}
		}

		return c.Next()
	}
}

func isQueryPath(path string) bool {
	for _, p := range queryPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
