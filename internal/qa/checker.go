package qa

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/scraper"
	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/pkg/logger"
)

const defaultPageSize = 500

type Store interface {
	CountDecisions() (int, error)
	ListDecisions(filter models.ListFilter) ([]models.Decision, error)
	DuplicateKeyGroups() ([]models.DuplicateGroup, error)
	DeleteDuplicates(key string) (int64, error)
	SampleEnriched(n int) ([]models.Decision, error)
}

// SummaryScorer rates a stored summary against its decision text, 1 to 3.
type SummaryScorer interface {
	ScoreSummary(ctx context.Context, content, summary string) (int, string, error)
}

// KeyIssue is a stored record whose key fails the grammar. Suggestion is a
// rebuilt key when the numeric columns allow one, empty otherwise.
type KeyIssue struct {
	Key        string `json:"key"`
	Title      string `json:"title,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// URLMismatch is a record whose canonical URL names a different decision
// number than the record itself.
type URLMismatch struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	URLNumber int    `json:"url_number"`
	Number    int    `json:"decision_number"`
}

type IntegrityReport struct {
	Total           int                     `json:"total"`
	DuplicateGroups []models.DuplicateGroup `json:"duplicate_groups"`
	MalformedKeys   []KeyIssue              `json:"malformed_keys"`
	URLMismatches   []URLMismatch           `json:"url_mismatches"`
	GeneratedAt     time.Time               `json:"generated_at"`
}

// Clean reports whether the store passed every integrity check.
func (r *IntegrityReport) Clean() bool {
	return len(r.DuplicateGroups) == 0 && len(r.MalformedKeys) == 0 && len(r.URLMismatches) == 0
}

type DedupeReport struct {
	Groups   []models.DuplicateGroup `json:"groups"`
	Removed  int64                   `json:"removed"`
	Executed bool                    `json:"executed"`
}

type SummaryScore struct {
	Key       string `json:"key"`
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

type SpotCheckReport struct {
	Sampled  int            `json:"sampled"`
	Scored   int            `json:"scored"`
	Errors   int            `json:"errors"`
	Average  float64        `json:"average"`
	LowCount int            `json:"low_count"`
	Scores   []SummaryScore `json:"scores"`
}

// Checker runs batch integrity checks over the decisions store.
type Checker struct {
	store    Store
	scorer   SummaryScorer
	pageSize int
	logger   *zap.Logger
}

func NewChecker(store Store, scorer SummaryScorer) *Checker {
	return &Checker{
		store:    store,
		scorer:   scorer,
		pageSize: defaultPageSize,
		logger:   logger.GetLogger(),
	}
}

// IntegrityReport scans the whole table for duplicate key groups, malformed
// keys, and URL-to-record number mismatches.
func (c *Checker) IntegrityReport(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{GeneratedAt: time.Now().UTC()}

	total, err := c.store.CountDecisions()
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}
	report.Total = total

	groups, err := c.store.DuplicateKeyGroups()
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate groups: %w", err)
	}
	report.DuplicateGroups = groups

	filter := models.ListFilter{Limit: c.pageSize}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := c.store.ListDecisions(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list decisions: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, d := range page {
			c.checkRecord(d, report)
		}

		if len(page) < c.pageSize {
			break
		}
		filter.Offset += len(page)
	}

	c.logger.Info("Integrity report generated",
		zap.Int("total", report.Total),
		zap.Int("duplicate_groups", len(report.DuplicateGroups)),
		zap.Int("malformed_keys", len(report.MalformedKeys)),
		zap.Int("url_mismatches", len(report.URLMismatches)),
	)
	return report, nil
}

func (c *Checker) checkRecord(d models.Decision, report *IntegrityReport) {
	if !models.ValidKey(d.Key) {
		report.MalformedKeys = append(report.MalformedKeys, KeyIssue{
			Key:        d.Key,
			Title:      d.Title,
			Suggestion: suggestKey(d),
		})
	}

	if d.URL == "" {
		return
	}
	urlNumber, ok := scraper.URLNumber(d.URL)
	if !ok {
		return
	}
	if d.DecisionNumber > 0 && urlNumber != d.DecisionNumber {
		report.URLMismatches = append(report.URLMismatches, URLMismatch{
			Key:       d.Key,
			URL:       d.URL,
			URLNumber: urlNumber,
			Number:    d.DecisionNumber,
		})
	}
}

// suggestKey rebuilds a key from the record's numeric columns. Only a
// category the grammar accepts is carried over.
func suggestKey(d models.Decision) string {
	if d.GovernmentNumber <= 0 || d.DecisionNumber <= 0 {
		return ""
	}

	category := ""
	switch d.Category {
	case models.CategoryCommittee, models.CategorySecurity, models.CategoryEcon, models.CategorySpecial:
		category = d.Category
	}
	return models.BuildKey(d.GovernmentNumber, category, d.DecisionNumber)
}

// Dedupe repairs duplicate key groups by keeping each group's oldest row.
// Without execute it only reports what would be removed.
func (c *Checker) Dedupe(ctx context.Context, execute bool) (*DedupeReport, error) {
	groups, err := c.store.DuplicateKeyGroups()
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate groups: %w", err)
	}

	report := &DedupeReport{Groups: groups, Executed: execute}

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if !execute {
			report.Removed += int64(group.Count - 1)
			continue
		}

		removed, err := c.store.DeleteDuplicates(group.Key)
		if err != nil {
			return report, fmt.Errorf("failed to dedupe key %s: %w", group.Key, err)
		}
		report.Removed += removed
		c.logger.Info("Duplicate rows removed",
			zap.String("key", group.Key),
			zap.Int64("removed", removed),
		)
	}

	if !execute && len(groups) > 0 {
		c.logger.Info("Dedupe dry run",
			zap.Int("groups", len(groups)),
			zap.Int64("would_remove", report.Removed),
		)
	}
	return report, nil
}

// SpotCheck samples enriched records and has the scorer rate each summary.
// Scoring failures are counted and skipped, matching the batch tooling rule
// that one bad record never aborts a report.
func (c *Checker) SpotCheck(ctx context.Context, n int) (*SpotCheckReport, error) {
	if c.scorer == nil {
		return nil, fmt.Errorf("summary scoring requires an enrichment client")
	}
	if n <= 0 {
		n = 10
	}

	sample, err := c.store.SampleEnriched(n)
	if err != nil {
		return nil, fmt.Errorf("failed to sample records: %w", err)
	}

	report := &SpotCheckReport{Sampled: len(sample)}
	totalScore := 0

	for _, d := range sample {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		score, reasoning, err := c.scorer.ScoreSummary(ctx, d.Content, d.Summary)
		if err != nil {
			report.Errors++
			c.logger.Warn("Failed to score summary",
				zap.String("key", d.Key),
				zap.Error(err),
			)
			continue
		}

		report.Scored++
		totalScore += score
		if score < 2 {
			report.LowCount++
		}
		report.Scores = append(report.Scores, SummaryScore{
			Key:       d.Key,
			Score:     score,
			Reasoning: reasoning,
		})
	}

	if report.Scored > 0 {
		report.Average = float64(totalScore) / float64(report.Scored)
	}

	c.logger.Info("Summary spot check finished",
		zap.Int("sampled", report.Sampled),
		zap.Int("scored", report.Scored),
		zap.Int("low", report.LowCount),
		zap.Float64("average", report.Average),
	)
	return report, nil
}
