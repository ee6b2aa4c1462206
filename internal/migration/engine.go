package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/checkpoint"
	"github.com/govdecisions/backend/internal/metrics"
	"github.com/govdecisions/backend/internal/storage"
	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/internal/tagging"
	"github.com/govdecisions/backend/pkg/logger"
	"github.com/govdecisions/backend/pkg/retry"
)

// ModeTags re-runs the tag validator over stored records against the current
// vocabulary.
const ModeTags = "tags"

const defaultPageSize = 200

type Store interface {
	DistinctYears() ([]string, error)
	ListDecisions(filter models.ListFilter) ([]models.Decision, error)
	UpdateDecisionTags(key, policyAreas, governmentBodies, locations, allTags string) error
}

type Options struct {
	DryRun bool
	// Years restricts the run to explicit partitions; empty means every
	// stored year, newest first.
	Years []string
	// KeyPrefix switches partitioning from years to a single key-prefix
	// partition (for example "37_" for one government).
	KeyPrefix string
	PageSize  int
}

// PartitionResult is the outcome of one partition within a run.
type PartitionResult struct {
	Partition string `json:"partition"`
	Scanned   int    `json:"scanned"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Resumed   bool   `json:"resumed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report aggregates a whole migration run. Updated counts proposed changes in
// dry-run mode and written changes in execute mode.
type Report struct {
	RunID      string                `json:"run_id"`
	Mode       string                `json:"mode"`
	DryRun     bool                  `json:"dry_run"`
	Scanned    int                   `json:"scanned"`
	Updated    int                   `json:"updated"`
	Skipped    int                   `json:"skipped"`
	Failed     int                   `json:"failed"`
	Partitions []PartitionResult     `json:"partitions"`
	Stats      *tagging.MappingStats `json:"stats"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Engine re-validates stored tag fields partition by partition. Partitions
// are isolated: a failing partition is recorded and the run moves on. The
// checkpoint is rewritten after every partition so an interrupted run resumes
// past completed work.
type Engine struct {
	store      Store
	validator  *tagging.Validator
	checkpoint checkpoint.Store
	logger     *zap.Logger
}

func NewEngine(store Store, validator *tagging.Validator, cpStore checkpoint.Store) *Engine {
	return &Engine{
		store:      store,
		validator:  validator,
		checkpoint: cpStore,
		logger:     logger.GetLogger(),
	}
}

// Run executes one tag migration. Dry runs never write and never touch the
// checkpoint. The returned error is non-nil only when the run could not start
// or every partition failed; partial failures live in the report.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}

	partitions, err := e.partitions(opts)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     ulid.Make().String(),
		Mode:      ModeTags,
		DryRun:    opts.DryRun,
		Stats:     tagging.NewMappingStats(),
		StartedAt: time.Now().UTC(),
	}

	cp := e.resume(ctx, report, opts)

	e.logger.Info("Migration run started",
		zap.String("run_id", report.RunID),
		zap.Bool("dry_run", opts.DryRun),
		zap.Strings("partitions", partitions),
	)

	failed := 0
	for _, partition := range partitions {
		if cp.Done(partition) {
			e.logger.Info("Skipping completed partition", zap.String("partition", partition))
			report.Partitions = append(report.Partitions, PartitionResult{Partition: partition, Resumed: true})
			continue
		}
		if ctx.Err() != nil {
			return report, fmt.Errorf("migration interrupted: %w", ctx.Err())
		}

		cp.CurrentPartition = partition
		result := e.runPartition(ctx, partition, opts, report.Stats)
		report.Partitions = append(report.Partitions, result)
		report.Scanned += result.Scanned
		report.Updated += result.Updated
		report.Skipped += result.Skipped
		report.Failed += result.Failed

		if result.Error != "" {
			failed++
			e.logger.Error("Partition failed, continuing with the next one",
				zap.String("partition", partition),
				zap.String("error", result.Error),
			)
			continue
		}

		cp.MarkDone(partition)
		cp.Totals = checkpoint.Totals{
			Scanned: report.Scanned,
			Updated: report.Updated,
			Skipped: report.Skipped,
			Failed:  report.Failed,
		}
		e.saveCheckpoint(ctx, cp, opts)
	}

	report.FinishedAt = time.Now().UTC()

	if failed == 0 && !opts.DryRun && e.checkpoint != nil {
		if err := e.checkpoint.Clear(ctx); err != nil {
			e.logger.Warn("Failed to clear checkpoint after full run", zap.Error(err))
		}
	}

	e.logReport(report)

	if len(partitions) > 0 && failed == len(partitions) {
		return report, fmt.Errorf("all %d partitions failed", failed)
	}
	return report, nil
}

// partitions resolves the run's partition list: the explicit key prefix, the
// explicit year list, or every stored year newest first.
func (e *Engine) partitions(opts Options) ([]string, error) {
	if opts.KeyPrefix != "" {
		return []string{opts.KeyPrefix}, nil
	}
	if len(opts.Years) > 0 {
		years := append([]string(nil), opts.Years...)
		sort.Sort(sort.Reverse(sort.StringSlice(years)))
		return years, nil
	}

	years, err := e.store.DistinctYears()
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	return years, nil
}

// resume loads the previous checkpoint when it matches this run's mode. The
// totals of the interrupted run are folded into the new report so the final
// numbers cover the whole logical run.
func (e *Engine) resume(ctx context.Context, report *Report, opts Options) *checkpoint.Checkpoint {
	fresh := &checkpoint.Checkpoint{
		RunID:     report.RunID,
		Mode:      ModeTags,
		StartedAt: report.StartedAt,
	}
	if e.checkpoint == nil || opts.DryRun {
		return fresh
	}

	cp, err := e.checkpoint.Load(ctx)
	if err != nil {
		e.logger.Warn("Failed to load checkpoint, starting fresh", zap.Error(err))
		return fresh
	}
	if cp == nil || cp.Mode != ModeTags {
		return fresh
	}

	e.logger.Info("Resuming migration from checkpoint",
		zap.String("previous_run_id", cp.RunID),
		zap.Strings("completed", cp.Completed),
	)
	report.Scanned = cp.Totals.Scanned
	report.Updated = cp.Totals.Updated
	report.Skipped = cp.Totals.Skipped
	report.Failed = cp.Totals.Failed

	cp.RunID = report.RunID
	return cp
}

func (e *Engine) saveCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint, opts Options) {
	if e.checkpoint == nil || opts.DryRun {
		return
	}
	if err := e.checkpoint.Save(ctx, cp); err != nil {
		e.logger.Warn("Failed to save checkpoint",
			zap.String("partition", cp.CurrentPartition),
			zap.Error(err),
		)
	}
}

// runPartition pages through one partition's records and re-validates each.
// Record-level failures are counted; only a paging failure fails the whole
// partition.
func (e *Engine) runPartition(ctx context.Context, partition string, opts Options, stats *tagging.MappingStats) PartitionResult {
	result := PartitionResult{Partition: partition}

	filter := models.ListFilter{Limit: opts.PageSize}
	if opts.KeyPrefix != "" {
		filter.KeyPrefix = partition
	} else {
		filter.Year = partition
	}

	for {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			return result
		}

		page, err := e.store.ListDecisions(filter)
		if err != nil {
			result.Error = fmt.Sprintf("failed to list records: %v", err)
			return result
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			e.migrateRecord(ctx, &page[i], opts, stats, &result)
		}

		if len(page) < opts.PageSize {
			break
		}
		filter.Offset += len(page)
	}

	e.logger.Info("Partition finished",
		zap.String("partition", partition),
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result
}

// migrateRecord re-validates one record's tag fields against the current
// vocabulary, using the record's stored summary as the AI step's supporting
// text.
func (e *Engine) migrateRecord(ctx context.Context, d *models.Decision, opts Options, stats *tagging.MappingStats, result *PartitionResult) {
	result.Scanned++
	metrics.MigrationRecordsScanned.Inc()

	policy, resolutions := e.validator.ValidateList(ctx, d.PolicyAreas, tagging.FieldPolicyArea, d.Summary)
	e.record(d.Key, resolutions, stats)

	bodies, resolutions := e.validator.ValidateList(ctx, d.GovernmentBodies, tagging.FieldGovernmentBody, d.Summary)
	e.record(d.Key, resolutions, stats)

	locations := tagging.CleanList(d.Locations)

	updated := *d
	updated.PolicyAreas = policy
	updated.GovernmentBodies = bodies
	updated.Locations = locations
	updated.ComposeAllTags()

	if updated.PolicyAreas == d.PolicyAreas &&
		updated.GovernmentBodies == d.GovernmentBodies &&
		updated.Locations == d.Locations &&
		updated.AllTags == d.AllTags {
		result.Skipped++
		return
	}

	if opts.DryRun {
		result.Updated++
		metrics.MigrationRecordsUpdated.WithLabelValues("dry_run").Inc()
		e.logger.Info("Would update record",
			zap.String("key", d.Key),
			zap.String("policy_areas", fmt.Sprintf("%q -> %q", d.PolicyAreas, updated.PolicyAreas)),
			zap.String("government_bodies", fmt.Sprintf("%q -> %q", d.GovernmentBodies, updated.GovernmentBodies)),
		)
		return
	}

	err := retry.Do(ctx, e.updateRetryConfig(), func() error {
		return e.store.UpdateDecisionTags(d.Key, updated.PolicyAreas, updated.GovernmentBodies, updated.Locations, updated.AllTags)
	})
	if err != nil {
		result.Failed++
		e.logger.Error("Failed to update record",
			zap.String("key", d.Key),
			zap.Error(err),
		)
		return
	}

	result.Updated++
	metrics.MigrationRecordsUpdated.WithLabelValues("execute").Inc()
}

func (e *Engine) record(key string, resolutions []tagging.Resolution, stats *tagging.MappingStats) {
	for _, res := range resolutions {
		stats.Record(res)
		metrics.TagResolutions.WithLabelValues(string(res.Method), "migration").Inc()
		if res.Method == tagging.MethodFallback {
			stats.RecordFallbackKey(key)
		}
	}
}

func (e *Engine) updateRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:     3,
		InitialDelay:    200 * time.Millisecond,
		Multiplier:      2.0,
		JitterFraction:  0.1,
		RetryableErrors: []error{storage.ErrTransient},
		Logger:          e.logger,
	}
}

func (e *Engine) logReport(report *Report) {
	methods := make([]string, 0, len(report.Stats.Counts))
	for method, count := range report.Stats.Counts {
		methods = append(methods, fmt.Sprintf("%s=%d", method, count))
	}
	sort.Strings(methods)

	e.logger.Info("Migration run finished",
		zap.String("run_id", report.RunID),
		zap.Bool("dry_run", report.DryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.String("resolutions", strings.Join(methods, " ")),
		zap.Int("fallback_keys", len(report.Stats.FallbackKeys)),
	)
}
