package models

import (
	"strings"
	"time"
)

// Decision date strings use this layout everywhere (scraper output, storage,
// baseline comparison). SQLite stores them as TEXT so lexicographic order is
// date order.
const DateLayout = "2006-01-02"

// BaselineEpoch is the lower bound of the baseline sanity filter; stored rows
// dated on or before it never become the baseline.
const BaselineEpoch = "2000-01-01"

// ContentUnavailable marks records whose body could not be scraped in full.
// Such rows are excluded from baseline selection.
const ContentUnavailable = "[content unavailable]"

const (
	OperativityOperative   = "Operative"
	OperativityDeclarative = "Declarative"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// TagSeparator joins multi-value tag fields.
const TagSeparator = ";"

// MaxTagsPerField caps each validated tag list.
const MaxTagsPerField = 3

type Decision struct {
	Key              string
	GovernmentNumber int
	DecisionNumber   int
	Category         string
	Date             string
	Title            string
	Content          string
	URL              string
	Summary          string
	Operativity      string
	PolicyAreas      string
	GovernmentBodies string
	Locations        string
	AllTags          string
	EmbeddingID      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ComposeAllTags rebuilds the derived all-tags field from the three tag
// columns, skipping empties.
func (d *Decision) ComposeAllTags() {
	parts := make([]string, 0, 3)
	for _, field := range []string{d.PolicyAreas, d.GovernmentBodies, d.Locations} {
		if field != "" {
			parts = append(parts, field)
		}
	}
	d.AllTags = strings.Join(parts, TagSeparator)
}

// ParseDate parses a decision date string. Callers decide how to treat a
// failure; the baseline tracker treats unparseable candidate dates as newer.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(value))
}

type SyncRun struct {
	ID         string
	Trigger    string
	Status     string
	Scraped    int
	Inserted   int
	Duplicates int
	Invalid    int
	Errors     int
	StartedAt  time.Time
	FinishedAt *time.Time
}

type SearchRecord struct {
	ID          string
	QueryText   string
	ResultCount int
	LatencyMS   int
	CreatedAt   time.Time
}

// ListFilter narrows decision queries. Zero values mean "no filter";
// Limit <= 0 means no limit.
type ListFilter struct {
	Year      string
	KeyPrefix string
	Limit     int
	Offset    int
}

// DuplicateGroup is one decision_key stored more than once.
type DuplicateGroup struct {
	Key   string
	Count int
}
