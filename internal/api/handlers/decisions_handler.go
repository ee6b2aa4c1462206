package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/graph"
	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// DecisionStore is the read surface the decisions endpoints need.
type DecisionStore interface {
	GetDecision(key string) (*models.Decision, error)
	ListDecisions(filter models.ListFilter) ([]models.Decision, error)
}

type DecisionsHandler struct {
	store  DecisionStore
	mirror *graph.Mirror
}

func NewDecisionsHandler(store DecisionStore, mirror *graph.Mirror) *DecisionsHandler {
	return &DecisionsHandler{
		store:  store,
		mirror: mirror,
	}
}

func (h *DecisionsHandler) GetDecision(c *fiber.Ctx) error {
	key := c.Params("key")
	if !models.ValidKey(key) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid decision key",
		})
	}

	decision, err := h.store.GetDecision(key)
	if err != nil {
		logger.Error("Failed to get decision", zap.String("key", key), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get decision",
		})
	}
	if decision == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Decision not found",
		})
	}

	return c.JSON(decisionView(decision, true))
}

func (h *DecisionsHandler) ListDecisions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	filter := models.ListFilter{
		Year:      c.Query("year"),
		KeyPrefix: c.Query("prefix"),
		Limit:     limit,
		Offset:    c.QueryInt("offset", 0),
	}

	decisions, err := h.store.ListDecisions(filter)
	if err != nil {
		logger.Error("Failed to list decisions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list decisions",
		})
	}

	views := make([]fiber.Map, 0, len(decisions))
	for i := range decisions {
		views = append(views, decisionView(&decisions[i], false))
	}

	return c.JSON(fiber.Map{
		"decisions": views,
		"count":     len(views),
	})
}

// Related serves the graph co-occurrence query: decisions sharing tags with
// the given one. Unavailable when the graph mirror is not configured.
func (h *DecisionsHandler) Related(c *fiber.Ctx) error {
	key := c.Params("key")
	if !models.ValidKey(key) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid decision key",
		})
	}

	if !h.mirror.Enabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Graph mirror is not configured",
		})
	}

	related, err := h.mirror.Related(c.Context(), key, c.QueryInt("limit", 10))
	if err != nil {
		logger.Error("Failed to query related decisions", zap.String("key", key), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to query related decisions",
		})
	}

	return c.JSON(fiber.Map{
		"key":     key,
		"related": related,
	})
}

func decisionView(d *models.Decision, full bool) fiber.Map {
	view := fiber.Map{
		"key":               d.Key,
		"government_number": d.GovernmentNumber,
		"decision_number":   d.DecisionNumber,
		"date":              d.Date,
		"title":             d.Title,
		"url":               d.URL,
		"operativity":       d.Operativity,
		"policy_areas":      d.PolicyAreas,
		"government_bodies": d.GovernmentBodies,
		"locations":         d.Locations,
	}
	if d.Category != "" {
		view["category"] = d.Category
	}
	if full {
		view["content"] = d.Content
		view["summary"] = d.Summary
		view["all_tags"] = d.AllTags
		view["created_at"] = d.CreatedAt
		view["updated_at"] = d.UpdatedAt
	}
	return view
}
