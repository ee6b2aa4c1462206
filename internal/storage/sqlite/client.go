package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Overlapping runs from other processes hit the same file.
	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// InitSchema creates tables and indices. The decision key uniqueness lives in
// a separate unique index so a table that predates it (and may hold
// duplicates) can still be opened for QA repair; index creation fails until
// the duplicates are removed.
func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		decision_key TEXT NOT NULL,
		government_number INTEGER NOT NULL,
		decision_number INTEGER,
		category TEXT NOT NULL DEFAULT '',
		decision_date TEXT NOT NULL DEFAULT '',
		decision_title TEXT NOT NULL DEFAULT '',
		decision_content TEXT NOT NULL DEFAULT '',
		decision_url TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		operativity TEXT NOT NULL DEFAULT '',
		tags_policy_area TEXT NOT NULL DEFAULT '',
		tags_government_body TEXT NOT NULL DEFAULT '',
		tags_location TEXT NOT NULL DEFAULT '',
		all_tags TEXT NOT NULL DEFAULT '',
		embedding_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_decisions_key ON decisions(decision_key);
	CREATE INDEX IF NOT EXISTS idx_decisions_date ON decisions(decision_date);
	CREATE INDEX IF NOT EXISTS idx_decisions_government ON decisions(government_number);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		trigger_source TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		scraped INTEGER NOT NULL DEFAULT 0,
		inserted INTEGER NOT NULL DEFAULT 0,
		duplicates INTEGER NOT NULL DEFAULT 0,
		invalid INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);

	CREATE TABLE IF NOT EXISTS search_history (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		result_count INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_search_created ON search_history(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", classify(err))
	}

	logger.Info("SQLite schema initialized")
	return nil
}

const decisionColumns = `decision_key, government_number, decision_number, category,
	decision_date, decision_title, decision_content, decision_url,
	summary, operativity, tags_policy_area, tags_government_body, tags_location,
	all_tags, embedding_id, created_at, updated_at`

func decisionArgs(d *models.Decision, now int64) []interface{} {
	return []interface{}{
		d.Key,
		d.GovernmentNumber,
		d.DecisionNumber,
		d.Category,
		d.Date,
		d.Title,
		d.Content,
		d.URL,
		d.Summary,
		d.Operativity,
		d.PolicyAreas,
		d.GovernmentBodies,
		d.Locations,
		d.AllTags,
		d.EmbeddingID,
		now,
		now,
	}
}

// InsertDecisions writes all records in one multi-row statement. A
// uniqueness violation anywhere in the batch fails the whole statement with
// ErrConstraint; callers fall back to InsertDecision per record.
func (c *Client) InsertDecisions(records []*models.Decision) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().Unix()
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", 17), ", ") + ")"
	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*17)
	for _, d := range records {
		values = append(values, placeholder)
		args = append(args, decisionArgs(d, now)...)
	}

	query := fmt.Sprintf("INSERT INTO decisions (%s) VALUES %s", decisionColumns, strings.Join(values, ", "))

	_, err := c.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert decisions: %w", classify(err))
	}

	logger.Debug("Decisions inserted", zap.Int("count", len(records)))
	return nil
}

func (c *Client) InsertDecision(d *models.Decision) error {
	now := time.Now().Unix()
	query := fmt.Sprintf(
		"INSERT INTO decisions (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		decisionColumns,
	)

	_, err := c.db.Exec(query, decisionArgs(d, now)...)
	if err != nil {
		return fmt.Errorf("failed to insert decision %s: %w", d.Key, classify(err))
	}
	return nil
}

// ExistingKeys returns the subset of keys already stored, via one IN query.
func (c *Client) ExistingKeys(keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	query := fmt.Sprintf("SELECT decision_key FROM decisions WHERE decision_key IN (%s)", placeholders)

	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing keys: %w", classify(err))
	}
	defer rows.Close()

	var existing []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		existing = append(existing, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to check existing keys: %w", classify(err))
	}

	return existing, nil
}

// LatestDecision returns the stored record with the maximum
// (decision_date, decision_number) among rows passing the sanity filter, or
// nil when no row qualifies.
func (c *Client) LatestDecision() (*models.Decision, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM decisions
		WHERE decision_date > ?
		  AND decision_number IS NOT NULL
		  AND decision_number > 0
		  AND decision_content != ?
		ORDER BY decision_date DESC, decision_number DESC
		LIMIT 1
	`, decisionColumns)

	row := c.db.QueryRow(query, models.BaselineEpoch, models.ContentUnavailable)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest decision: %w", classify(err))
	}
	return d, nil
}

func (c *Client) GetDecision(key string) (*models.Decision, error) {
	query := fmt.Sprintf("SELECT %s FROM decisions WHERE decision_key = ?", decisionColumns)

	row := c.db.QueryRow(query, key)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision %s: %w", key, classify(err))
	}
	return d, nil
}

func (c *Client) ListDecisions(filter models.ListFilter) ([]models.Decision, error) {
	var conditions []string
	var args []interface{}

	if filter.Year != "" {
		conditions = append(conditions, "substr(decision_date, 1, 4) = ?")
		args = append(args, filter.Year)
	}
	if filter.KeyPrefix != "" {
		conditions = append(conditions, "decision_key LIKE ?")
		args = append(args, filter.KeyPrefix+"%")
	}

	query := fmt.Sprintf("SELECT %s FROM decisions", decisionColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY decision_date DESC, decision_number DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", classify(err))
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		decisions = append(decisions, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", classify(err))
	}

	return decisions, nil
}

// DistinctYears lists the years present in storage, most recent first. Used
// to enumerate migration partitions.
func (c *Client) DistinctYears() ([]string, error) {
	query := `
		SELECT DISTINCT substr(decision_date, 1, 4) AS year
		FROM decisions
		WHERE decision_date != ''
		ORDER BY year DESC
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list years: %w", classify(err))
	}
	defer rows.Close()

	var years []string
	for rows.Next() {
		var year string
		if err := rows.Scan(&year); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		years = append(years, year)
	}
	return years, rows.Err()
}

// UpdateDecisionTags rewrites the tag fields of one record. The key never
// changes.
func (c *Client) UpdateDecisionTags(key, policyAreas, governmentBodies, locations, allTags string) error {
	query := `
		UPDATE decisions
		SET tags_policy_area = ?, tags_government_body = ?, tags_location = ?,
			all_tags = ?, updated_at = ?
		WHERE decision_key = ?
	`

	_, err := c.db.Exec(query, policyAreas, governmentBodies, locations, allTags, time.Now().Unix(), key)
	if err != nil {
		return fmt.Errorf("failed to update tags for %s: %w", key, classify(err))
	}
	return nil
}

func (c *Client) SetEmbeddingID(key, embeddingID string) error {
	query := `UPDATE decisions SET embedding_id = ?, updated_at = ? WHERE decision_key = ?`

	_, err := c.db.Exec(query, embeddingID, time.Now().Unix(), key)
	if err != nil {
		return fmt.Errorf("failed to set embedding id for %s: %w", key, classify(err))
	}
	return nil
}

// ListUnembedded returns summarized records that have not been pushed to the
// vector index yet.
func (c *Client) ListUnembedded(limit int) ([]models.Decision, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM decisions
		WHERE embedding_id = '' AND summary != ''
		ORDER BY decision_date DESC
		LIMIT ?
	`, decisionColumns)

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded decisions: %w", classify(err))
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}

func (c *Client) CountDecisions() (int, error) {
	var count int
	err := c.db.QueryRow("SELECT COUNT(*) FROM decisions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count decisions: %w", classify(err))
	}
	return count, nil
}

// DuplicateKeyGroups finds keys stored more than once. Only possible on
// tables predating the unique index.
func (c *Client) DuplicateKeyGroups() ([]models.DuplicateGroup, error) {
	query := `
		SELECT decision_key, COUNT(*) AS n
		FROM decisions
		GROUP BY decision_key
		HAVING n > 1
		ORDER BY n DESC
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate keys: %w", classify(err))
	}
	defer rows.Close()

	var groups []models.DuplicateGroup
	for rows.Next() {
		var g models.DuplicateGroup
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteDuplicates removes all rows for key except the earliest inserted.
// Returns the number of rows deleted.
func (c *Client) DeleteDuplicates(key string) (int64, error) {
	query := `
		DELETE FROM decisions
		WHERE decision_key = ?
		  AND id > (SELECT MIN(id) FROM decisions WHERE decision_key = ?)
	`

	res, err := c.db.Exec(query, key, key)
	if err != nil {
		return 0, fmt.Errorf("failed to delete duplicates for %s: %w", key, classify(err))
	}
	deleted, _ := res.RowsAffected()

	logger.Info("Duplicate rows removed", zap.String("key", key), zap.Int64("deleted", deleted))
	return deleted, nil
}

// SampleEnriched returns up to n random records that carry a summary, for QA
// spot checks.
func (c *Client) SampleEnriched(n int) ([]models.Decision, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM decisions
		WHERE summary != ''
		ORDER BY RANDOM()
		LIMIT ?
	`, decisionColumns)

	rows, err := c.db.Query(query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to sample decisions: %w", classify(err))
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}

func (c *Client) CreateSyncRun(run *models.SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, trigger_source, status, scraped, inserted, duplicates, invalid, errors, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		run.ID,
		run.Trigger,
		run.Status,
		run.Scraped,
		run.Inserted,
		run.Duplicates,
		run.Invalid,
		run.Errors,
		run.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", classify(err))
	}
	return nil
}

func (c *Client) UpdateSyncRun(run *models.SyncRun) error {
	query := `
		UPDATE sync_runs
		SET status = ?, scraped = ?, inserted = ?, duplicates = ?, invalid = ?, errors = ?, finished_at = ?
		WHERE id = ?
	`

	var finished interface{}
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Unix()
	}

	_, err := c.db.Exec(
		query,
		run.Status,
		run.Scraped,
		run.Inserted,
		run.Duplicates,
		run.Invalid,
		run.Errors,
		finished,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run %s: %w", run.ID, classify(err))
	}
	return nil
}

func (c *Client) ListSyncRuns(limit int) ([]models.SyncRun, error) {
	query := `
		SELECT id, trigger_source, status, scraped, inserted, duplicates, invalid, errors, started_at, finished_at
		FROM sync_runs
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", classify(err))
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var r models.SyncRun
		var startedAt int64
		var finishedAt sql.NullInt64

		err := rows.Scan(&r.ID, &r.Trigger, &r.Status, &r.Scraped, &r.Inserted, &r.Duplicates, &r.Invalid, &r.Errors, &startedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			t := time.Unix(finishedAt.Int64, 0)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (c *Client) InsertSearchRecord(record *models.SearchRecord) error {
	query := `INSERT INTO search_history (id, query_text, result_count, latency_ms, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.QueryText,
		record.ResultCount,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert search record: %w", classify(err))
	}
	return nil
}

func (c *Client) ListSearchHistory(limit int) ([]models.SearchRecord, error) {
	query := `
		SELECT id, query_text, result_count, latency_ms, created_at
		FROM search_history
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list search history: %w", classify(err))
	}
	defer rows.Close()

	var records []models.SearchRecord
	for rows.Next() {
		var r models.SearchRecord
		var createdAt int64

		err := rows.Scan(&r.ID, &r.QueryText, &r.ResultCount, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row scannable) (*models.Decision, error) {
	var d models.Decision
	var decisionNumber sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&d.Key,
		&d.GovernmentNumber,
		&decisionNumber,
		&d.Category,
		&d.Date,
		&d.Title,
		&d.Content,
		&d.URL,
		&d.Summary,
		&d.Operativity,
		&d.PolicyAreas,
		&d.GovernmentBodies,
		&d.Locations,
		&d.AllTags,
		&d.EmbeddingID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if decisionNumber.Valid {
		d.DecisionNumber = int(decisionNumber.Int64)
	}
	d.CreatedAt = time.Unix(createdAt, 0)
	d.UpdatedAt = time.Unix(updatedAt, 0)
	return &d, nil
}
