package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/search"
	"github.com/govdecisions/backend/pkg/logger"
)

type SearchHandler struct {
	service *search.Service
}

// NewSearchHandler accepts a nil service; endpoints then answer 503 until the
// vector index is configured.
func NewSearchHandler(service *search.Service) *SearchHandler {
	return &SearchHandler{
		service: service,
	}
}

func (h *SearchHandler) unavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "Search is not configured",
	})
}

func (h *SearchHandler) HandleSearch(c *fiber.Ctx) error {
	if h.service == nil {
		return h.unavailable(c)
	}

	var req search.Request
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	response, err := h.service.Search(c.Context(), req)
	if err != nil {
		logger.Error("Search failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to run search",
		})
	}

	return c.JSON(response)
}

func (h *SearchHandler) HandleAsk(c *fiber.Ctx) error {
	if h.service == nil {
		return h.unavailable(c)
	}

	var req search.Request
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	response, err := h.service.Ask(c.Context(), req)
	if err != nil {
		logger.Error("Ask failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to answer question",
		})
	}

	return c.JSON(response)
}

func (h *SearchHandler) History(c *fiber.Ctx) error {
	if h.service == nil {
		return h.unavailable(c)
	}

	records, err := h.service.History(c.QueryInt("limit", 20))
	if err != nil {
		logger.Error("Failed to list search history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list search history",
		})
	}

	views := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		views = append(views, fiber.Map{
			"id":           r.ID,
			"query":        r.QueryText,
			"result_count": r.ResultCount,
			"latency_ms":   r.LatencyMS,
			"created_at":   r.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"history": views,
	})
}

// TriggerIndex pushes un-embedded summaries into the vector index. Normally
// runs automatically after a sync; this endpoint backfills.
func (h *SearchHandler) TriggerIndex(c *fiber.Ctx) error {
	if h.service == nil {
		return h.unavailable(c)
	}

	var req struct {
		Limit int `json:"limit"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	report, err := h.service.IndexPending(c.Context(), req.Limit)
	if err != nil {
		logger.Error("Indexing failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to index decisions",
		})
	}

	return c.JSON(report)
}
