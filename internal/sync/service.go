package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/enrich"
	"github.com/govdecisions/backend/internal/metrics"
	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/internal/tagging"
	"github.com/govdecisions/backend/pkg/logger"
	"github.com/govdecisions/backend/pkg/utils"
)

// ErrRunInProgress is returned when a sync is requested while another one
// holds the run slot.
var ErrRunInProgress = fmt.Errorf("a sync run is already in progress")

type Scraper interface {
	FetchLatest(ctx context.Context) ([]*models.Decision, error)
}

type Enricher interface {
	EnrichDecision(ctx context.Context, title, content string) (*enrich.Enrichment, error)
}

// EnrichmentCache is the slice of the redis client the service uses. A nil
// cache disables caching without changing behavior.
type EnrichmentCache interface {
	GetEnrichment(ctx context.Context, contentHash string, enrichment interface{}) (bool, error)
	SetEnrichment(ctx context.Context, contentHash string, enrichment interface{}, ttl time.Duration) error
	InvalidateSearchCache(ctx context.Context) error
}

type Store interface {
	BaselineStore
	GuardStore
	PersistStore
	CreateSyncRun(run *models.SyncRun) error
	UpdateSyncRun(run *models.SyncRun) error
}

// Progress is one pipeline status event, streamed to websocket subscribers.
type Progress struct {
	RunID   string `json:"run_id"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// Service runs the sync pipeline: scrape, baseline filter, enrich, validate
// tags, persist. One run at a time; a second request fails fast with
// ErrRunInProgress rather than queueing.
type Service struct {
	scraper   Scraper
	enricher  Enricher
	store     Store
	cache     EnrichmentCache
	validator *tagging.Validator
	baseline  *BaselineTracker
	persister *Persister
	cacheTTL  time.Duration
	logger    *zap.Logger

	mu      gosync.Mutex
	running bool

	subMu       gosync.Mutex
	subscribers map[chan Progress]struct{}
}

func NewService(
	scraper Scraper,
	enricher Enricher,
	store Store,
	cache EnrichmentCache,
	validator *tagging.Validator,
	persisterCfg PersisterConfig,
	cacheTTL time.Duration,
) *Service {
	guard := NewDuplicateGuard(store, persisterCfg.InsertRetries, persisterCfg.RetryDelay)
	return &Service{
		scraper:     scraper,
		enricher:    enricher,
		store:       store,
		cache:       cache,
		validator:   validator,
		baseline:    NewBaselineTracker(store),
		persister:   NewPersister(store, guard, persisterCfg),
		cacheTTL:    cacheTTL,
		logger:      logger.GetLogger(),
		subscribers: make(map[chan Progress]struct{}),
	}
}

// RunSync executes one full pipeline pass and records it as a sync_runs row.
// The returned run carries the final counters even when err is non-nil.
func (s *Service) RunSync(ctx context.Context, trigger string) (*models.SyncRun, error) {
	if !s.acquire() {
		return nil, ErrRunInProgress
	}
	defer s.release()

	run := &models.SyncRun{
		ID:        ulid.Make().String(),
		Trigger:   trigger,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSyncRun(run); err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}

	s.logger.Info("Sync run started",
		zap.String("run_id", run.ID),
		zap.String("trigger", trigger),
	)
	start := time.Now()

	err := s.execute(ctx, run)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	metrics.SyncDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		run.Status = models.RunStatusFailed
		metrics.SyncRunsTotal.WithLabelValues(models.RunStatusFailed).Inc()
		s.logger.Error("Sync run failed", zap.String("run_id", run.ID), zap.Error(err))
	} else {
		run.Status = models.RunStatusCompleted
		metrics.SyncRunsTotal.WithLabelValues(models.RunStatusCompleted).Inc()
		s.logger.Info("Sync run completed",
			zap.String("run_id", run.ID),
			zap.Int("scraped", run.Scraped),
			zap.Int("inserted", run.Inserted),
			zap.Int("duplicates", run.Duplicates),
			zap.Int("invalid", run.Invalid),
			zap.Int("errors", run.Errors),
		)
	}

	if updateErr := s.store.UpdateSyncRun(run); updateErr != nil {
		s.logger.Error("Failed to update sync run row",
			zap.String("run_id", run.ID),
			zap.Error(updateErr),
		)
	}

	s.publish(Progress{RunID: run.ID, Stage: run.Status, Message: "run finished"})
	return run, err
}

func (s *Service) execute(ctx context.Context, run *models.SyncRun) error {
	s.publish(Progress{RunID: run.ID, Stage: "scraping", Message: "fetching decisions catalog"})

	candidates, err := s.scraper.FetchLatest(ctx)
	if err != nil {
		return fmt.Errorf("scrape failed: %w", err)
	}
	run.Scraped = len(candidates)
	metrics.RecordsScraped.Add(float64(len(candidates)))

	baseline, err := s.baseline.Baseline()
	if err != nil {
		return err
	}
	fresh := s.baseline.FilterNew(candidates, baseline)
	s.logger.Info("Baseline filter applied",
		zap.Int("candidates", len(candidates)),
		zap.Int("fresh", len(fresh)),
	)

	stats := tagging.NewMappingStats()
	for i, record := range fresh {
		s.publish(Progress{
			RunID:   run.ID,
			Stage:   "enriching",
			Message: record.Key,
			Current: i + 1,
			Total:   len(fresh),
		})
		s.enrichRecord(ctx, record, stats)
	}
	s.logTagStats(stats)

	s.publish(Progress{
		RunID:   run.ID,
		Stage:   "persisting",
		Message: fmt.Sprintf("writing %d records", len(fresh)),
		Total:   len(fresh),
	})

	result, err := s.persister.InsertBatch(ctx, fresh)
	if err != nil {
		return err
	}

	run.Inserted = result.Inserted
	run.Duplicates += result.Duplicates
	run.Invalid = result.Invalid
	run.Errors = len(result.Errors)

	metrics.RecordsInserted.Add(float64(result.Inserted))
	metrics.RecordsDuplicate.Add(float64(result.Duplicates))
	metrics.RecordsInvalid.Add(float64(result.Invalid))
	metrics.RecordErrors.Add(float64(len(result.Errors)))

	if s.cache != nil && result.Inserted > 0 {
		if err := s.cache.InvalidateSearchCache(ctx); err != nil {
			s.logger.Warn("Failed to invalidate search cache", zap.Error(err))
		}
	}
	return nil
}

// enrichRecord fills AI fields for one record. Enrichment failures degrade
// the record to unenriched rather than failing the run; truncated records are
// stored as-is and picked up by a later migration.
func (s *Service) enrichRecord(ctx context.Context, record *models.Decision, stats *tagging.MappingStats) {
	if record.Content == "" || record.Content == models.ContentUnavailable {
		s.logger.Debug("Skipping enrichment for record without content",
			zap.String("key", record.Key),
		)
		return
	}

	enrichment, err := s.cachedEnrichment(ctx, record)
	if err != nil {
		s.logger.Warn("Enrichment failed, storing record unenriched",
			zap.String("key", record.Key),
			zap.Error(err),
		)
		return
	}

	record.Summary = enrichment.Summary
	record.Operativity = enrichment.Operativity
	s.applyTags(ctx, record, enrichment, stats)
}

func (s *Service) cachedEnrichment(ctx context.Context, record *models.Decision) (*enrich.Enrichment, error) {
	contentHash := utils.HashString(record.Content)

	if s.cache != nil {
		var cached enrich.Enrichment
		found, err := s.cache.GetEnrichment(ctx, contentHash, &cached)
		if err != nil {
			s.logger.Warn("Enrichment cache read failed", zap.Error(err))
		} else if found {
			return &cached, nil
		}
	}

	enrichment, err := s.enricher.EnrichDecision(ctx, record.Title, record.Content)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetEnrichment(ctx, contentHash, enrichment, s.cacheTTL); err != nil {
			s.logger.Warn("Enrichment cache write failed", zap.Error(err))
		}
	}
	return enrichment, nil
}

// applyTags runs every AI tag candidate through the validator so only
// vocabulary members reach storage. Location tags have no vocabulary and are
// only normalized.
func (s *Service) applyTags(ctx context.Context, record *models.Decision, enrichment *enrich.Enrichment, stats *tagging.MappingStats) {
	policy, resolutions := s.validator.ValidateList(ctx, enrichment.PolicyAreas, tagging.FieldPolicyArea, enrichment.Summary)
	s.recordResolutions(record.Key, tagging.FieldPolicyArea, resolutions, stats)
	record.PolicyAreas = policy

	bodies, resolutions := s.validator.ValidateList(ctx, enrichment.GovernmentBodies, tagging.FieldGovernmentBody, enrichment.Summary)
	s.recordResolutions(record.Key, tagging.FieldGovernmentBody, resolutions, stats)
	record.GovernmentBodies = bodies

	record.Locations = tagging.CleanList(enrichment.Locations)
	record.ComposeAllTags()
}

func (s *Service) recordResolutions(key string, field tagging.Field, resolutions []tagging.Resolution, stats *tagging.MappingStats) {
	for _, res := range resolutions {
		stats.Record(res)
		metrics.TagResolutions.WithLabelValues(string(res.Method), field.String()).Inc()
		if res.Method == tagging.MethodFallback {
			stats.RecordFallbackKey(key)
		}
	}
}

func (s *Service) logTagStats(stats *tagging.MappingStats) {
	if stats.Total() == 0 {
		return
	}
	s.logger.Info("Tag validation finished",
		zap.Int("total", stats.Total()),
		zap.Int("exact", stats.Counts[tagging.MethodExact]),
		zap.Int("substring", stats.Counts[tagging.MethodSubstring]),
		zap.Int("word_overlap", stats.Counts[tagging.MethodWordOverlap]),
		zap.Int("ai_tag", stats.Counts[tagging.MethodAITag]),
		zap.Int("ai_summary", stats.Counts[tagging.MethodAISummary]),
		zap.Int("fallback", stats.Counts[tagging.MethodFallback]),
	)
}

// Running reports whether a run currently holds the slot.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Service) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Subscribe registers a progress listener. The returned cancel function must
// be called to release the channel; events are dropped rather than blocking
// a slow subscriber.
func (s *Service) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 16)

	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Service) publish(event Progress) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
