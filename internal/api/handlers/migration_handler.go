package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/migration"
	"github.com/govdecisions/backend/pkg/logger"
)

type MigrationHandler struct {
	engine *migration.Engine
}

func NewMigrationHandler(engine *migration.Engine) *MigrationHandler {
	return &MigrationHandler{
		engine: engine,
	}
}

// MigrateTags re-validates stored tags against the current vocabulary. Runs
// synchronously: migrations are operator actions and the report is the
// response. Defaults to dry-run; writes happen only when the body asks.
func (h *MigrationHandler) MigrateTags(c *fiber.Ctx) error {
	req := struct {
		DryRun    *bool    `json:"dry_run"`
		Years     []string `json:"years"`
		KeyPrefix string   `json:"key_prefix"`
		PageSize  int      `json:"page_size"`
	}{}

	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	opts := migration.Options{
		DryRun:    true,
		Years:     req.Years,
		KeyPrefix: req.KeyPrefix,
		PageSize:  req.PageSize,
	}
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}

	report, err := h.engine.Run(c.Context(), opts)
	if err != nil {
		logger.Error("Tag migration failed", zap.Error(err))
		resp := fiber.Map{
			"error": "Tag migration failed",
		}
		if report != nil {
			resp["report"] = report
		}
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	}

	return c.JSON(report)
}
