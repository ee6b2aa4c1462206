// Package handlers holds the fiber endpoints. Handlers translate between
// HTTP and the service layer and carry no pipeline logic of their own.
package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/storage/models"
	syncsvc "github.com/govdecisions/backend/internal/sync"
	"github.com/govdecisions/backend/pkg/logger"
)

// RunStore lists sync run rows for the history endpoint.
type RunStore interface {
	ListSyncRuns(limit int) ([]models.SyncRun, error)
}

type SyncHandler struct {
	service *syncsvc.Service
	store   RunStore

	// onComplete runs after a successful sync, off the request path. Wired to
	// vector indexing and graph mirroring.
	onComplete func(run *models.SyncRun)
}

func NewSyncHandler(service *syncsvc.Service, store RunStore, onComplete func(run *models.SyncRun)) *SyncHandler {
	return &SyncHandler{
		service:    service,
		store:      store,
		onComplete: onComplete,
	}
}

// TriggerSync starts a sync run on a background goroutine and returns
// immediately. Progress is streamed on the websocket; the run row appears in
// the history endpoint.
func (h *SyncHandler) TriggerSync(c *fiber.Ctx) error {
	if h.service.Running() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "a sync run is already in progress",
		})
	}

	go func() {
		// The request context dies with the response; the run must not.
		run, err := h.service.RunSync(context.Background(), "api")
		if err != nil {
			logger.Error("Sync run failed", zap.Error(err))
			return
		}
		if h.onComplete != nil && run.Inserted > 0 {
			h.onComplete(run)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "started",
	})
}

func (h *SyncHandler) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)

	runs, err := h.store.ListSyncRuns(limit)
	if err != nil {
		logger.Error("Failed to list sync runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sync runs",
		})
	}

	views := make([]fiber.Map, 0, len(runs))
	for i := range runs {
		views = append(views, runView(&runs[i]))
	}

	return c.JSON(fiber.Map{
		"runs": views,
	})
}

func runView(run *models.SyncRun) fiber.Map {
	view := fiber.Map{
		"id":         run.ID,
		"trigger":    run.Trigger,
		"status":     run.Status,
		"scraped":    run.Scraped,
		"inserted":   run.Inserted,
		"duplicates": run.Duplicates,
		"invalid":    run.Invalid,
		"errors":     run.Errors,
		"started_at": run.StartedAt,
	}
	if run.FinishedAt != nil {
		view["finished_at"] = *run.FinishedAt
	}
	return view
}
