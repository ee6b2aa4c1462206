package tagging

import (
	"context"
	"errors"
	"testing"
)

type fakeProposer struct {
	answer  string
	err     error
	calls   int
	gotText string
}

func (f *fakeProposer) ProposeTag(ctx context.Context, text string, vocabulary []string) (string, error) {
	f.calls++
	f.gotText = text
	return f.answer, f.err
}

func testVocabulary() *Vocabulary {
	return &Vocabulary{
		PolicyAreas:      []string{"Education", "Health", "Water Economy", "Miscellaneous"},
		GovernmentBodies: []string{"Ministry of Education", "Ministry of Health", "Prime Minister's Office"},
	}
}

func TestValidateExactMatch(t *testing.T) {
	v := NewValidator(testVocabulary(), nil)

	res := v.Validate(context.Background(), "Health", FieldPolicyArea, "")
	if res.Resolved != "Health" {
		t.Fatalf("resolved = %q, want Health", res.Resolved)
	}
	if res.Method != MethodExact {
		t.Errorf("method = %q, want exact", res.Method)
	}
}

func TestValidateSubstringMatch(t *testing.T) {
	v := NewValidator(testVocabulary(), nil)

	tests := []struct {
		name      string
		candidate string
		field     Field
		resolved  string
		method    Method
	}{
		{"case difference resolves to canonical entry", "health", FieldPolicyArea, "Health", MethodSubstring},
		{"candidate contained in entry", "Water", FieldPolicyArea, "Water Economy", MethodSubstring},
		{"body candidate contained in entry", "Prime Minister", FieldGovernmentBody, "Prime Minister's Office", MethodSubstring},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(context.Background(), tt.candidate, tt.field, "")
			if res.Resolved != tt.resolved {
				t.Errorf("resolved = %q, want %q", res.Resolved, tt.resolved)
			}
			if res.Method != tt.method {
				t.Errorf("method = %q, want %q", res.Method, tt.method)
			}
		})
	}
}

func TestSubstringNeverMatchesReverse(t *testing.T) {
	// The candidate is longer than the entry; containment the other way
	// around must not count, so the chain proceeds past the substring step.
	v := NewValidator(testVocabulary(), nil)

	res := v.Validate(context.Background(), "Educational Affairs", FieldPolicyArea, "")
	if res.Method == MethodSubstring {
		t.Fatalf("candidate longer than every entry resolved by substring: %q", res.Resolved)
	}
}

func TestWordOverlapThreshold(t *testing.T) {
	vocab := &Vocabulary{
		PolicyAreas: []string{"National Water Economy Plan", "Miscellaneous"},
	}
	v := NewValidator(vocab, nil)

	// Three of four meaningful words shared with the four-word entry:
	// 3 / (4 + 4 - 3) = 0.6, strictly above the threshold.
	accepted := v.Validate(context.Background(), "National Water Economy Reform", FieldPolicyArea, "")
	if accepted.Method != MethodWordOverlap {
		t.Fatalf("method = %q, want word_overlap", accepted.Method)
	}
	if accepted.Resolved != "National Water Economy Plan" {
		t.Errorf("resolved = %q", accepted.Resolved)
	}

	// Both candidate words shared with the four-word entry:
	// 2 / (2 + 4 - 2) = 0.5 exactly, rejected by the strict comparison.
	// "Economy Water" is word-reversed so the substring step cannot take it.
	rejected := v.Validate(context.Background(), "Economy Water", FieldPolicyArea, "")
	if rejected.Method == MethodWordOverlap {
		t.Fatalf("Jaccard 0.5 accepted, threshold must be strict")
	}
	if rejected.Resolved != PolicyFallback {
		t.Errorf("resolved = %q, want fallback sentinel", rejected.Resolved)
	}
}

func TestWordOverlapNeedsTwoMeaningfulWords(t *testing.T) {
	proposer := &fakeProposer{err: errors.New("unavailable")}
	v := NewValidator(testVocabulary(), proposer)

	// One meaningful word only; the overlap step is skipped entirely and
	// the chain falls through (proposer fails, then sentinel).
	res := v.Validate(context.Background(), "Schooling", FieldPolicyArea, "")
	if res.Resolved != PolicyFallback {
		t.Errorf("resolved = %q, want %q", res.Resolved, PolicyFallback)
	}
	if res.Method != MethodFallback {
		t.Errorf("method = %q, want fallback", res.Method)
	}
}

func TestWordOverlapTieKeepsFirstEntry(t *testing.T) {
	vocab := &Vocabulary{
		PolicyAreas: []string{"Urban Planning Policy Development", "Urban Planning Policy Reform", "Miscellaneous"},
	}
	v := NewValidator(vocab, nil)

	// The word-reversed candidate shares all three words with both entries
	// (3 / (3 + 4 - 3) = 0.75 each); vocabulary order breaks the tie.
	res := v.Validate(context.Background(), "Policy Planning Urban", FieldPolicyArea, "")
	if res.Method != MethodWordOverlap {
		t.Fatalf("method = %q, want word_overlap", res.Method)
	}
	if res.Resolved != "Urban Planning Policy Development" {
		t.Errorf("resolved = %q, want first entry", res.Resolved)
	}
}

func TestProposerResolvesWithSummary(t *testing.T) {
	proposer := &fakeProposer{answer: "Education"}
	v := NewValidator(testVocabulary(), proposer)

	res := v.Validate(context.Background(), "Pedagogy Matters", FieldPolicyArea, "A decision about school funding.")
	if res.Resolved != "Education" {
		t.Fatalf("resolved = %q, want Education", res.Resolved)
	}
	if res.Method != MethodAISummary {
		t.Errorf("method = %q, want ai_summary", res.Method)
	}
	if proposer.gotText != "A decision about school funding." {
		t.Errorf("proposer received %q, want the summary", proposer.gotText)
	}
	if proposer.calls != 1 {
		t.Errorf("proposer called %d times, want 1", proposer.calls)
	}
}

func TestProposerUsesRawTagWithoutSummary(t *testing.T) {
	proposer := &fakeProposer{answer: "Health"}
	v := NewValidator(testVocabulary(), proposer)

	res := v.Validate(context.Background(), "Hospital Affairs", FieldPolicyArea, "")
	if res.Method != MethodAITag {
		t.Errorf("method = %q, want ai_tag", res.Method)
	}
	if proposer.gotText != "Hospital Affairs" {
		t.Errorf("proposer received %q, want the raw candidate", proposer.gotText)
	}
}

func TestProposerFailureFallsThrough(t *testing.T) {
	tests := []struct {
		name     string
		proposer *fakeProposer
	}{
		{"call error", &fakeProposer{err: errors.New("timeout")}},
		{"answer outside vocabulary", &fakeProposer{answer: "Sports"}},
		{"answer empty", &fakeProposer{answer: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(testVocabulary(), tt.proposer)

			res := v.Validate(context.Background(), "Unmatchable Topic", FieldPolicyArea, "some summary")
			if res.Resolved != PolicyFallback {
				t.Errorf("resolved = %q, want %q", res.Resolved, PolicyFallback)
			}
			if res.Method != MethodFallback {
				t.Errorf("method = %q, want fallback", res.Method)
			}
		})
	}
}

func TestProposerNotCalledWhenEarlierStepResolves(t *testing.T) {
	proposer := &fakeProposer{answer: "Health"}
	v := NewValidator(testVocabulary(), proposer)

	v.Validate(context.Background(), "Education", FieldPolicyArea, "summary")
	if proposer.calls != 0 {
		t.Errorf("proposer called %d times on exact match, want 0", proposer.calls)
	}
}

func TestFallbackSentinelPerField(t *testing.T) {
	v := NewValidator(testVocabulary(), nil)

	policy := v.Validate(context.Background(), "Completely Unrelated Topic", FieldPolicyArea, "")
	if policy.Resolved != "Miscellaneous" {
		t.Errorf("policy fallback = %q, want Miscellaneous", policy.Resolved)
	}

	body := v.Validate(context.Background(), "Completely Unrelated Topic", FieldGovernmentBody, "")
	if body.Resolved != "" {
		t.Errorf("body fallback = %q, want empty", body.Resolved)
	}
}

func TestEducationalAffairsScenario(t *testing.T) {
	// Vocabulary {Education, Health, Miscellaneous}; candidate
	// "Educational Affairs" shares one of two meaningful words with
	// "Education" (Jaccard 0.5), so the fuzzy steps reject it and the
	// proposer decides.
	vocab := &Vocabulary{PolicyAreas: []string{"Education", "Health", "Miscellaneous"}}
	proposer := &fakeProposer{answer: "Education"}
	v := NewValidator(vocab, proposer)

	res := v.Validate(context.Background(), "Educational Affairs", FieldPolicyArea, "Decision on school curricula.")
	if res.Resolved != "Education" {
		t.Fatalf("resolved = %q, want Education", res.Resolved)
	}
	if res.Method != MethodAISummary {
		t.Errorf("method = %q, want ai_summary", res.Method)
	}
	if proposer.calls != 1 {
		t.Errorf("proposer called %d times, want 1", proposer.calls)
	}
}

func TestValidateListDedupesAndCaps(t *testing.T) {
	v := NewValidator(testVocabulary(), nil)

	resolved, resolutions := v.ValidateList(
		context.Background(),
		"Education; education ;Health;Water Economy;Miscellaneous",
		FieldPolicyArea,
		"",
	)
	if resolved != "Education;Health;Water Economy" {
		t.Errorf("resolved list = %q", resolved)
	}
	if len(resolutions) != 5 {
		t.Errorf("resolutions = %d, want 5", len(resolutions))
	}
}

func TestValidateListDropsEmptyBodyResolutions(t *testing.T) {
	v := NewValidator(testVocabulary(), nil)

	resolved, _ := v.ValidateList(
		context.Background(),
		"Nonexistent Body;Ministry of Health",
		FieldGovernmentBody,
		"",
	)
	if resolved != "Ministry of Health" {
		t.Errorf("resolved list = %q, want only the vocabulary member", resolved)
	}
}

func TestValidateListEmptyInput(t *testing.T) {
	v := NewValidator(testVocabulary(), nil)

	resolved, resolutions := v.ValidateList(context.Background(), "  ", FieldPolicyArea, "")
	if resolved != "" || resolutions != nil {
		t.Errorf("empty input produced %q / %d resolutions", resolved, len(resolutions))
	}
}

func TestVocabularyClosure(t *testing.T) {
	vocab := testVocabulary()
	proposer := &fakeProposer{answer: "not a member"}
	v := NewValidator(vocab, proposer)

	candidates := []string{
		"Education", "health", "Water", "Educational Affairs",
		"Foreign Policy Matters", "", "Misc",
	}
	for _, candidate := range candidates {
		res := v.Validate(context.Background(), candidate, FieldPolicyArea, "summary")
		if !vocab.Contains(FieldPolicyArea, res.Resolved) {
			t.Errorf("candidate %q resolved to %q, outside the vocabulary", candidate, res.Resolved)
		}
	}
}

func TestCleanList(t *testing.T) {
	got := CleanList(" Jerusalem ;;Haifa;Jerusalem;Eilat;Beer Sheva ")
	if got != "Jerusalem;Haifa;Eilat" {
		t.Errorf("CleanList = %q", got)
	}

	if CleanList("") != "" {
		t.Errorf("CleanList of empty input must be empty")
	}
}
