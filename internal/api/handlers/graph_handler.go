package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/graph"
	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/pkg/logger"
)

type GraphHandler struct {
	mirror *graph.Mirror
	store  DecisionStore
}

func NewGraphHandler(mirror *graph.Mirror, store DecisionStore) *GraphHandler {
	return &GraphHandler{
		mirror: mirror,
		store:  store,
	}
}

// MirrorGraph replays stored decisions into the tag graph. Used to backfill
// after enabling the mirror or after a tag migration.
func (h *GraphHandler) MirrorGraph(c *fiber.Ctx) error {
	if !h.mirror.Enabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Graph mirror is not configured",
		})
	}

	var req struct {
		Year      string `json:"year"`
		KeyPrefix string `json:"key_prefix"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	decisions, err := h.store.ListDecisions(models.ListFilter{
		Year:      req.Year,
		KeyPrefix: req.KeyPrefix,
	})
	if err != nil {
		logger.Error("Failed to list decisions for mirroring", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list decisions",
		})
	}

	report := h.mirror.MirrorDecisions(c.Context(), decisions)
	return c.JSON(report)
}
