package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/govdecisions/backend/pkg/logger"
)

// Totals carries the running counters a resumed migration run starts from.
type Totals struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Checkpoint records which migration partitions have finished so an
// interrupted run can resume without redoing them. Rewritten after every
// partition.
type Checkpoint struct {
	RunID            string    `json:"run_id"`
	Mode             string    `json:"mode"`
	CurrentPartition string    `json:"current_partition"`
	Completed        []string  `json:"completed_partitions"`
	Totals           Totals    `json:"totals"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Done reports whether a partition is already recorded as completed.
func (c *Checkpoint) Done(partition string) bool {
	if c == nil {
		return false
	}
	for _, p := range c.Completed {
		if p == partition {
			return true
		}
	}
	return false
}

// MarkDone appends a partition, skipping ones already present.
func (c *Checkpoint) MarkDone(partition string) {
	if c.Done(partition) {
		return
	}
	c.Completed = append(c.Completed, partition)
	c.UpdatedAt = time.Now().UTC()
}

type Store interface {
	// Load returns (nil, nil) when no checkpoint exists.
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Clear(ctx context.Context) error
}

// FileStore keeps the checkpoint as a JSON file on disk.
type FileStore struct {
	path   string
	logger *zap.Logger
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.GetLogger(),
	}
}

func (s *FileStore) Load(_ context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		// A torn write leaves invalid JSON. Updates are idempotent, so
		// starting over is safe.
		s.logger.Warn("Checkpoint file is corrupted, starting fresh",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return nil, nil
	}
	return &cp, nil
}

func (s *FileStore) Save(_ context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint file: %w", err)
	}
	return nil
}

// checkpointCache is the slice of the redis cache client the store needs.
type checkpointCache interface {
	SaveCheckpoint(ctx context.Context, key string, data []byte) error
	LoadCheckpoint(ctx context.Context, key string) ([]byte, bool, error)
	ClearCheckpoint(ctx context.Context, key string) error
}

// RedisStore keeps the checkpoint in redis, for deployments where migration
// runs move between hosts.
type RedisStore struct {
	cache  checkpointCache
	key    string
	logger *zap.Logger
}

func NewRedisStore(cache checkpointCache, key string) *RedisStore {
	return &RedisStore{
		cache:  cache,
		key:    key,
		logger: logger.GetLogger(),
	}
}

func (s *RedisStore) Load(ctx context.Context) (*Checkpoint, error) {
	data, found, err := s.cache.LoadCheckpoint(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("Checkpoint value is corrupted, starting fresh",
			zap.String("key", s.key),
			zap.Error(err),
		)
		return nil, nil
	}
	return &cp, nil
}

func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return s.cache.SaveCheckpoint(ctx, s.key, data)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.cache.ClearCheckpoint(ctx, s.key)
}
