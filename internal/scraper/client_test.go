package scraper

import (
	"strings"
	"testing"

	"github.com/govdecisions/backend/internal/storage/models"
)

const catalogHTML = `
<html><body>
<div class="policy-item">
  <a class="policy-link" href="/he/departments/policies/dec1234-2024">
    <span class="policy-title">החלטת ממשלה בנושא תקציב החינוך</span>
  </a>
  <span class="policy-date">2024-06-15</span>
</div>
<div class="policy-item" data-government="36">
  <a class="policy-link" href="https://www.gov.il/he/departments/policies/dec88-2021">
    <span class="policy-title">החלטת ועדת שרים לענייני חקיקה</span>
  </a>
  <span class="policy-date">15.03.2021</span>
</div>
<div class="policy-item">
  <a class="policy-link" href="/he/departments/policies/no-number-here">
    <span class="policy-title">עמוד ללא מספר החלטה</span>
  </a>
  <span class="policy-date">2024-01-01</span>
</div>
</body></html>`

func TestParseCatalog(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://www.gov.il", Government: 37})

	candidates, err := c.parseCatalog(strings.NewReader(catalogHTML))
	if err != nil {
		t.Fatalf("parseCatalog: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	first := candidates[0]
	if first.Key != "37_1234" {
		t.Errorf("key = %q, want 37_1234", first.Key)
	}
	if first.DecisionNumber != 1234 {
		t.Errorf("number = %d, want 1234", first.DecisionNumber)
	}
	if first.Date != "2024-06-15" {
		t.Errorf("date = %q, want 2024-06-15", first.Date)
	}
	if first.URL != "https://www.gov.il/he/departments/policies/dec1234-2024" {
		t.Errorf("url = %q", first.URL)
	}
	if first.Category != "" {
		t.Errorf("category = %q, want empty", first.Category)
	}

	second := candidates[1]
	if second.GovernmentNumber != 36 {
		t.Errorf("government = %d, want 36 from data attribute", second.GovernmentNumber)
	}
	if second.Category != models.CategoryCommittee {
		t.Errorf("category = %q, want %q", second.Category, models.CategoryCommittee)
	}
	if second.Key != "36_COMMITTEE_88" {
		t.Errorf("key = %q, want 36_COMMITTEE_88", second.Key)
	}
	if second.Date != "2021-03-15" {
		t.Errorf("date = %q, want normalized 2021-03-15", second.Date)
	}
}

func TestParseCatalogEmptyPage(t *testing.T) {
	c := NewClient(Config{})

	candidates, err := c.parseCatalog(strings.NewReader("<html><body></body></html>"))
	if err != nil {
		t.Fatalf("parseCatalog: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates, got %d", len(candidates))
	}
}

func TestURLNumber(t *testing.T) {
	tests := []struct {
		url    string
		number int
		ok     bool
	}{
		{"https://www.gov.il/he/departments/policies/dec1234-2024", 1234, true},
		{"/he/departments/policies/dec7-1999", 7, true},
		{"https://www.gov.il/he/departments/policies/dec999", 999, true},
		{"https://www.gov.il/he/departments/policies/other-page", 0, false},
		{"https://www.gov.il/he/decisions/1234", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		number, ok := URLNumber(tt.url)
		if number != tt.number || ok != tt.ok {
			t.Errorf("URLNumber(%q) = (%d, %v), want (%d, %v)", tt.url, number, ok, tt.number, tt.ok)
		}
	}
}

func TestDecisionURL(t *testing.T) {
	got := DecisionURL("https://www.gov.il", 1234, 2024)
	want := "https://www.gov.il/he/departments/policies/dec1234-2024"
	if got != want {
		t.Errorf("DecisionURL = %q, want %q", got, want)
	}

	number, ok := URLNumber(got)
	if !ok || number != 1234 {
		t.Errorf("URLNumber round trip = (%d, %v)", number, ok)
	}
}

func TestDetectCategory(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"החלטת ממשלה בנושא תקציב", ""},
		{"החלטת ועדת שרים לענייני חקיקה", models.CategoryCommittee},
		{"ישיבת הקבינט המדיני-ביטחוני", models.CategorySecurity},
		{"החלטת הקבינט החברתי-כלכלי", models.CategoryEcon},
	}

	for _, tt := range tests {
		if got := DetectCategory(tt.title); got != tt.want {
			t.Errorf("DetectCategory(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"2024-06-15", "2024-06-15"},
		{"15.06.2024", "2024-06-15"},
		{"15/06/2024", "2024-06-15"},
		{" 2024-06-15 ", "2024-06-15"},
		{"June 15, 2024", "June 15, 2024"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := normalizeDate(tt.raw); got != tt.want {
			t.Errorf("normalizeDate(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
