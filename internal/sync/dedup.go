package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/storage"
	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/pkg/logger"
	"github.com/govdecisions/backend/pkg/retry"
)

type GuardStore interface {
	ExistingKeys(keys []string) ([]string, error)
}

// transientOnly is the retry classifier used across the pipeline: only
// storage errors marked transient are worth another attempt.
func transientOnly(err error) bool {
	return errors.Is(err, storage.ErrTransient)
}

// DuplicateGuard answers which of a batch of keys are already stored, with
// one IN query instead of a query per key. A failed check must never pass
// for "no duplicates": after retries are exhausted the error propagates,
// because continuing would risk double-insertion.
type DuplicateGuard struct {
	store       GuardStore
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
}

func NewDuplicateGuard(store GuardStore, maxAttempts int, baseDelay time.Duration) *DuplicateGuard {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &DuplicateGuard{
		store:       store,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger.GetLogger(),
	}
}

// CheckExisting returns the subset of keys already present in storage.
func (g *DuplicateGuard) CheckExisting(ctx context.Context, keys []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return existing, nil
	}

	rows, err := retry.DoWithResult(ctx, g.retryConfig(), func() ([]string, error) {
		return g.store.ExistingKeys(keys)
	})
	if err != nil {
		return nil, fmt.Errorf("duplicate check failed after %d attempts: %w", g.maxAttempts, err)
	}

	for _, key := range rows {
		existing[key] = true
	}

	g.logger.Debug("Duplicate check completed",
		zap.Int("checked", len(keys)),
		zap.Int("existing", len(existing)),
	)
	return existing, nil
}

// FilterDuplicates splits records into those safe to insert and the keys
// that already exist.
func (g *DuplicateGuard) FilterDuplicates(ctx context.Context, records []*models.Decision) ([]*models.Decision, []string, error) {
	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, r.Key)
	}

	existing, err := g.CheckExisting(ctx, keys)
	if err != nil {
		return nil, nil, err
	}

	var unique []*models.Decision
	var duplicates []string
	for _, r := range records {
		if existing[r.Key] {
			duplicates = append(duplicates, r.Key)
			continue
		}
		unique = append(unique, r)
	}
	return unique, duplicates, nil
}

func (g *DuplicateGuard) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    g.maxAttempts,
		InitialDelay:   g.baseDelay,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Classify:       transientOnly,
		Logger:         g.logger,
	}
}
