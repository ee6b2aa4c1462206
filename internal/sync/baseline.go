package sync

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/pkg/logger"
)

type BaselineStore interface {
	LatestDecision() (*models.Decision, error)
}

// BaselineTracker decides which scraped candidates are genuinely new
// relative to the most recent stored record.
type BaselineTracker struct {
	store  BaselineStore
	logger *zap.Logger
}

func NewBaselineTracker(store BaselineStore) *BaselineTracker {
	return &BaselineTracker{
		store:  store,
		logger: logger.GetLogger(),
	}
}

// Baseline returns the stored record with the maximum
// (decision_date, decision_number) under the sanity filter, or nil when
// storage is empty. A nil baseline means every candidate counts as new.
func (b *BaselineTracker) Baseline() (*models.Decision, error) {
	baseline, err := b.store.LatestDecision()
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}

	if baseline == nil {
		b.logger.Info("No baseline found, treating all candidates as new")
		return nil, nil
	}

	b.logger.Info("Baseline loaded",
		zap.String("key", baseline.Key),
		zap.String("date", baseline.Date),
		zap.Int("number", baseline.DecisionNumber),
	)
	return baseline, nil
}

// NewerThanBaseline compares (date, number) lexicographically. A candidate
// date that does not parse counts as newer, so real data is never silently
// dropped over a formatting problem.
func (b *BaselineTracker) NewerThanBaseline(candidate, baseline *models.Decision) bool {
	if baseline == nil {
		return true
	}

	candidateDate, err := models.ParseDate(candidate.Date)
	if err != nil {
		b.logger.Warn("Candidate has unparseable date, treating as newer",
			zap.String("key", candidate.Key),
			zap.String("date", candidate.Date),
		)
		return true
	}

	baselineDate, err := models.ParseDate(baseline.Date)
	if err != nil {
		b.logger.Warn("Baseline has unparseable date, treating candidate as newer",
			zap.String("key", baseline.Key),
			zap.String("date", baseline.Date),
		)
		return true
	}

	if candidateDate.After(baselineDate) {
		return true
	}
	if candidateDate.Before(baselineDate) {
		return false
	}
	return candidate.DecisionNumber > baseline.DecisionNumber
}

// FilterNew keeps the candidates strictly newer than the baseline.
func (b *BaselineTracker) FilterNew(candidates []*models.Decision, baseline *models.Decision) []*models.Decision {
	if baseline == nil {
		return candidates
	}

	var fresh []*models.Decision
	for _, c := range candidates {
		if b.NewerThanBaseline(c, baseline) {
			fresh = append(fresh, c)
		}
	}
	return fresh
}
