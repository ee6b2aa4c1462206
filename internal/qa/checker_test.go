package qa

import (
	"context"
	"errors"
	"testing"

	"github.com/govdecisions/backend/internal/storage/models"
)

type fakeQAStore struct {
	decisions []models.Decision
	groups    []models.DuplicateGroup
	deleted   map[string]int64
	sample    []models.Decision
}

func (f *fakeQAStore) CountDecisions() (int, error) {
	return len(f.decisions), nil
}

func (f *fakeQAStore) ListDecisions(filter models.ListFilter) ([]models.Decision, error) {
	if filter.Offset >= len(f.decisions) {
		return nil, nil
	}
	end := filter.Offset + filter.Limit
	if filter.Limit <= 0 || end > len(f.decisions) {
		end = len(f.decisions)
	}
	return f.decisions[filter.Offset:end], nil
}

func (f *fakeQAStore) DuplicateKeyGroups() ([]models.DuplicateGroup, error) {
	return f.groups, nil
}

func (f *fakeQAStore) DeleteDuplicates(key string) (int64, error) {
	if f.deleted == nil {
		f.deleted = make(map[string]int64)
	}
	for _, g := range f.groups {
		if g.Key == key {
			removed := int64(g.Count - 1)
			f.deleted[key] = removed
			return removed, nil
		}
	}
	return 0, nil
}

func (f *fakeQAStore) SampleEnriched(n int) ([]models.Decision, error) {
	if n > len(f.sample) {
		n = len(f.sample)
	}
	return f.sample[:n], nil
}

type fakeScorer struct {
	scores map[string]int
	errs   map[string]error
}

func (f *fakeScorer) ScoreSummary(_ context.Context, _, summary string) (int, string, error) {
	if err := f.errs[summary]; err != nil {
		return 0, "", err
	}
	return f.scores[summary], "reasoning", nil
}

func TestIntegrityReportFindsIssues(t *testing.T) {
	store := &fakeQAStore{
		decisions: []models.Decision{
			{Key: "37_1", DecisionNumber: 1, URL: "https://www.gov.il/he/departments/policies/dec1-2024"},
			{Key: "37_", GovernmentNumber: 37, DecisionNumber: 250, Title: "broken key"},
			{Key: "abc", Title: "hopeless key"},
			{Key: "37_9", DecisionNumber: 9, URL: "https://www.gov.il/he/departments/policies/dec99-2024"},
			{Key: "37_COMMITTEE_4", GovernmentNumber: 37, DecisionNumber: 4, Category: models.CategoryCommittee},
		},
		groups: []models.DuplicateGroup{{Key: "37_1", Count: 3}},
	}

	checker := NewChecker(store, nil)
	report, err := checker.IntegrityReport(context.Background())
	if err != nil {
		t.Fatalf("IntegrityReport: %v", err)
	}

	if report.Total != 5 {
		t.Errorf("total = %d", report.Total)
	}
	if report.Clean() {
		t.Error("report with issues must not be clean")
	}
	if len(report.DuplicateGroups) != 1 || report.DuplicateGroups[0].Key != "37_1" {
		t.Errorf("duplicate groups = %+v", report.DuplicateGroups)
	}

	if len(report.MalformedKeys) != 2 {
		t.Fatalf("malformed keys = %+v", report.MalformedKeys)
	}
	if report.MalformedKeys[0].Key != "37_" || report.MalformedKeys[0].Suggestion != "37_250" {
		t.Errorf("first issue = %+v", report.MalformedKeys[0])
	}
	// No numeric columns to rebuild from: no suggestion.
	if report.MalformedKeys[1].Key != "abc" || report.MalformedKeys[1].Suggestion != "" {
		t.Errorf("second issue = %+v", report.MalformedKeys[1])
	}

	if len(report.URLMismatches) != 1 {
		t.Fatalf("url mismatches = %+v", report.URLMismatches)
	}
	mismatch := report.URLMismatches[0]
	if mismatch.Key != "37_9" || mismatch.URLNumber != 99 || mismatch.Number != 9 {
		t.Errorf("mismatch = %+v", mismatch)
	}
}

func TestIntegrityReportCleanStore(t *testing.T) {
	store := &fakeQAStore{
		decisions: []models.Decision{
			{Key: "37_1", DecisionNumber: 1, URL: "https://www.gov.il/he/departments/policies/dec1-2024"},
		},
	}

	checker := NewChecker(store, nil)
	report, err := checker.IntegrityReport(context.Background())
	if err != nil {
		t.Fatalf("IntegrityReport: %v", err)
	}
	if !report.Clean() {
		t.Errorf("report = %+v", report)
	}
}

func TestSuggestKeyCategoryHandling(t *testing.T) {
	tests := []struct {
		name string
		d    models.Decision
		want string
	}{
		{"plain", models.Decision{GovernmentNumber: 37, DecisionNumber: 12}, "37_12"},
		{"known category", models.Decision{GovernmentNumber: 37, DecisionNumber: 12, Category: models.CategorySecurity}, "37_SECURITY_12"},
		{"unknown category dropped", models.Decision{GovernmentNumber: 37, DecisionNumber: 12, Category: "cabinet"}, "37_12"},
		{"missing government", models.Decision{DecisionNumber: 12}, ""},
		{"missing number", models.Decision{GovernmentNumber: 37}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := suggestKey(tt.d); got != tt.want {
				t.Errorf("suggestKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDedupeDryRunReportsOnly(t *testing.T) {
	store := &fakeQAStore{
		groups: []models.DuplicateGroup{
			{Key: "37_1", Count: 3},
			{Key: "37_2", Count: 2},
		},
	}

	checker := NewChecker(store, nil)
	report, err := checker.Dedupe(context.Background(), false)
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}

	if report.Executed {
		t.Error("dry run marked executed")
	}
	if report.Removed != 3 {
		t.Errorf("would-remove = %d, want 3", report.Removed)
	}
	if len(store.deleted) != 0 {
		t.Errorf("dry run deleted rows: %v", store.deleted)
	}
}

func TestDedupeExecuteRemovesRows(t *testing.T) {
	store := &fakeQAStore{
		groups: []models.DuplicateGroup{
			{Key: "37_1", Count: 3},
			{Key: "37_2", Count: 2},
		},
	}

	checker := NewChecker(store, nil)
	report, err := checker.Dedupe(context.Background(), true)
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}

	if !report.Executed || report.Removed != 3 {
		t.Errorf("report = %+v", report)
	}
	if store.deleted["37_1"] != 2 || store.deleted["37_2"] != 1 {
		t.Errorf("deleted = %v", store.deleted)
	}
}

func TestSpotCheckAveragesAndTolerance(t *testing.T) {
	store := &fakeQAStore{
		sample: []models.Decision{
			{Key: "37_1", Content: "c1", Summary: "good"},
			{Key: "37_2", Content: "c2", Summary: "weak"},
			{Key: "37_3", Content: "c3", Summary: "broken"},
		},
	}
	scorer := &fakeScorer{
		scores: map[string]int{"good": 3, "weak": 1},
		errs:   map[string]error{"broken": errors.New("model unavailable")},
	}

	checker := NewChecker(store, scorer)
	report, err := checker.SpotCheck(context.Background(), 10)
	if err != nil {
		t.Fatalf("SpotCheck: %v", err)
	}

	if report.Sampled != 3 || report.Scored != 2 || report.Errors != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.Average != 2.0 {
		t.Errorf("average = %v", report.Average)
	}
	if report.LowCount != 1 {
		t.Errorf("low count = %d", report.LowCount)
	}
}

func TestSpotCheckRequiresScorer(t *testing.T) {
	checker := NewChecker(&fakeQAStore{}, nil)
	if _, err := checker.SpotCheck(context.Background(), 5); err == nil {
		t.Fatal("expected error without a scorer")
	}
}
