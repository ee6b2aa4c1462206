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

type PersistStore interface {
	InsertDecisions(records []*models.Decision) error
	InsertDecision(d *models.Decision) error
}

type PersisterConfig struct {
	BatchSize     int
	InsertRetries int
	RecordRetries int
	RetryDelay    time.Duration
}

func DefaultPersisterConfig() PersisterConfig {
	return PersisterConfig{
		BatchSize:     50,
		InsertRetries: 3,
		RecordRetries: 2,
		RetryDelay:    200 * time.Millisecond,
	}
}

// BatchResult is the explicit outcome of one InsertBatch call. Runs never
// end as a silent no-op: every record lands in exactly one counter.
type BatchResult struct {
	Inserted   int
	Duplicates int
	Invalid    int
	Errors     []string
}

// Persister writes new records in chunks. The bulk insert is the fast path;
// a chunk that fails falls back to per-record writes where a uniqueness
// violation is treated as "already present" rather than an error, tolerating
// races with overlapping runs.
type Persister struct {
	store  PersistStore
	guard  *DuplicateGuard
	cfg    PersisterConfig
	logger *zap.Logger
}

func NewPersister(store PersistStore, guard *DuplicateGuard, cfg PersisterConfig) *Persister {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.InsertRetries <= 0 {
		cfg.InsertRetries = 3
	}
	if cfg.RecordRetries <= 0 {
		cfg.RecordRetries = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return &Persister{
		store:  store,
		guard:  guard,
		cfg:    cfg,
		logger: logger.GetLogger(),
	}
}

// InsertBatch runs the full pipeline: duplicate guard, key validation,
// chunked bulk insert, per-record fallback. The returned error is non-nil
// only when the duplicate check itself failed; everything else is reported
// through the result.
func (p *Persister) InsertBatch(ctx context.Context, records []*models.Decision) (*BatchResult, error) {
	result := &BatchResult{}
	if len(records) == 0 {
		return result, nil
	}

	unique, duplicates, err := p.guard.FilterDuplicates(ctx, records)
	if err != nil {
		return nil, err
	}
	result.Duplicates = len(duplicates)

	var valid []*models.Decision
	for _, r := range unique {
		if !models.ValidKey(r.Key) {
			result.Invalid++
			p.logger.Warn("Dropping record with malformed key", zap.String("key", r.Key))
			continue
		}
		valid = append(valid, r)
	}

	for start := 0; start < len(valid); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(valid) {
			end = len(valid)
		}
		p.insertChunk(ctx, valid[start:end], result)
	}

	p.logger.Info("Batch persisted",
		zap.Int("inserted", result.Inserted),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("invalid", result.Invalid),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// insertChunk attempts one bulk statement for the chunk. A constraint
// violation is terminal for the bulk path (the retry classifier refuses it)
// and any bulk failure demotes the chunk to per-record writes.
func (p *Persister) insertChunk(ctx context.Context, chunk []*models.Decision, result *BatchResult) {
	err := retry.Do(ctx, p.bulkRetryConfig(), func() error {
		return p.store.InsertDecisions(chunk)
	})
	if err == nil {
		result.Inserted += len(chunk)
		return
	}

	if ctx.Err() != nil {
		for _, record := range chunk {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", record.Key, ctx.Err()))
		}
		return
	}

	if errors.Is(err, storage.ErrConstraint) {
		p.logger.Info("Bulk insert hit a constraint violation, demoting chunk to per-record inserts",
			zap.Int("chunk_size", len(chunk)),
		)
	} else {
		p.logger.Warn("Bulk insert failed after retries, demoting chunk to per-record inserts",
			zap.Int("chunk_size", len(chunk)),
			zap.Error(err),
		)
	}

	for _, record := range chunk {
		p.insertOne(ctx, record, result)
	}
}

func (p *Persister) insertOne(ctx context.Context, record *models.Decision, result *BatchResult) {
	err := retry.Do(ctx, p.recordRetryConfig(), func() error {
		return p.store.InsertDecision(record)
	})

	switch {
	case err == nil:
		result.Inserted++
	case errors.Is(err, storage.ErrConstraint):
		// Another run won the race between the duplicate check and this
		// write; the record is stored either way.
		result.Duplicates++
		p.logger.Debug("Record already present", zap.String("key", record.Key))
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", record.Key, err))
		p.logger.Error("Failed to insert record",
			zap.String("key", record.Key),
			zap.Error(err),
		)
	}
}

func (p *Persister) bulkRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    p.cfg.InsertRetries,
		InitialDelay:   p.cfg.RetryDelay,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Classify:       transientOnly,
		Logger:         p.logger,
	}
}

func (p *Persister) recordRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    p.cfg.RecordRetries,
		InitialDelay:   p.cfg.RetryDelay,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Classify:       transientOnly,
		Logger:         p.logger,
	}
}
