package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/qa"
	"github.com/govdecisions/backend/pkg/logger"
)

type QAHandler struct {
	checker *qa.Checker
}

func NewQAHandler(checker *qa.Checker) *QAHandler {
	return &QAHandler{
		checker: checker,
	}
}

func (h *QAHandler) Report(c *fiber.Ctx) error {
	report, err := h.checker.IntegrityReport(c.Context())
	if err != nil {
		logger.Error("Integrity report failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build integrity report",
		})
	}

	return c.JSON(fiber.Map{
		"clean":  report.Clean(),
		"report": report,
	})
}

// Dedupe removes duplicate key rows. Reports only unless the body carries
// execute=true.
func (h *QAHandler) Dedupe(c *fiber.Ctx) error {
	var req struct {
		Execute bool `json:"execute"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	report, err := h.checker.Dedupe(c.Context(), req.Execute)
	if err != nil {
		logger.Error("Dedupe failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to deduplicate",
		})
	}

	return c.JSON(report)
}

func (h *QAHandler) SpotCheck(c *fiber.Ctx) error {
	var req struct {
		Sample int `json:"sample"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	report, err := h.checker.SpotCheck(c.Context(), req.Sample)
	if err != nil {
		logger.Error("Spot check failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(report)
}
