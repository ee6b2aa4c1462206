package sync

import (
	"errors"
	"testing"

	"github.com/govdecisions/backend/internal/storage/models"
)

type fakeBaselineStore struct {
	latest *models.Decision
	err    error
}

func (f *fakeBaselineStore) LatestDecision() (*models.Decision, error) {
	return f.latest, f.err
}

func TestBaselineEmptyStorage(t *testing.T) {
	tracker := NewBaselineTracker(&fakeBaselineStore{})

	baseline, err := tracker.Baseline()
	if err != nil {
		t.Fatalf("Baseline: %v", err)
	}
	if baseline != nil {
		t.Fatal("empty storage should yield a nil baseline")
	}

	candidates := []*models.Decision{
		{Key: "37_1", Date: "2020-01-01", DecisionNumber: 1},
		{Key: "37_2", Date: "1999-01-01", DecisionNumber: 2},
	}
	fresh := tracker.FilterNew(candidates, nil)
	if len(fresh) != len(candidates) {
		t.Errorf("nil baseline should keep all candidates, kept %d", len(fresh))
	}
}

func TestBaselineStoreError(t *testing.T) {
	storeErr := errors.New("disk gone")
	tracker := NewBaselineTracker(&fakeBaselineStore{err: storeErr})

	_, err := tracker.Baseline()
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestNewerThanBaselineOrdering(t *testing.T) {
	tracker := NewBaselineTracker(&fakeBaselineStore{})
	baseline := &models.Decision{Key: "37_100", Date: "2024-06-01", DecisionNumber: 100}

	tests := []struct {
		name      string
		candidate *models.Decision
		want      bool
	}{
		{"later date smaller number", &models.Decision{Date: "2024-06-02", DecisionNumber: 1}, true},
		{"same date larger number", &models.Decision{Date: "2024-06-01", DecisionNumber: 101}, true},
		{"same date same number", &models.Decision{Date: "2024-06-01", DecisionNumber: 100}, false},
		{"same date smaller number", &models.Decision{Date: "2024-06-01", DecisionNumber: 99}, false},
		{"earlier date larger number", &models.Decision{Date: "2024-05-30", DecisionNumber: 500}, false},
		{"unparseable candidate date", &models.Decision{Date: "soon", DecisionNumber: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tracker.NewerThanBaseline(tt.candidate, baseline); got != tt.want {
				t.Errorf("NewerThanBaseline(%s/%d) = %v, want %v",
					tt.candidate.Date, tt.candidate.DecisionNumber, got, tt.want)
			}
		})
	}
}

func TestNewerThanBaselineUnparseableBaseline(t *testing.T) {
	tracker := NewBaselineTracker(&fakeBaselineStore{})
	baseline := &models.Decision{Key: "37_1", Date: "not-a-date", DecisionNumber: 1}
	candidate := &models.Decision{Key: "37_2", Date: "2020-01-01", DecisionNumber: 2}

	if !tracker.NewerThanBaseline(candidate, baseline) {
		t.Error("an unparseable baseline date must not suppress candidates")
	}
}

func TestFilterNew(t *testing.T) {
	tracker := NewBaselineTracker(&fakeBaselineStore{})
	baseline := &models.Decision{Key: "37_100", Date: "2024-06-01", DecisionNumber: 100}

	candidates := []*models.Decision{
		{Key: "37_101", Date: "2024-06-01", DecisionNumber: 101},
		{Key: "37_99", Date: "2024-06-01", DecisionNumber: 99},
		{Key: "37_102", Date: "2024-06-03", DecisionNumber: 102},
	}

	fresh := tracker.FilterNew(candidates, baseline)
	if len(fresh) != 2 {
		t.Fatalf("fresh = %d, want 2", len(fresh))
	}
	if fresh[0].Key != "37_101" || fresh[1].Key != "37_102" {
		t.Errorf("fresh keys = %s, %s", fresh[0].Key, fresh[1].Key)
	}
}
