package tagging

import (
	"os"
	"path/filepath"
	"testing"
)

func writeVocabFiles(t *testing.T, policyYAML, bodiesYAML string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy_areas.yaml")
	bodiesPath := filepath.Join(dir, "government_bodies.yaml")

	if err := os.WriteFile(policyPath, []byte(policyYAML), 0644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	if err := os.WriteFile(bodiesPath, []byte(bodiesYAML), 0644); err != nil {
		t.Fatalf("write bodies file: %v", err)
	}
	return policyPath, bodiesPath
}

func TestLoadVocabulary(t *testing.T) {
	policyPath, bodiesPath := writeVocabFiles(t, `
policy_areas:
  - Education
  - Health
  - Miscellaneous
`, `
government_bodies:
  - Ministry of Education
  - Ministry of Health
`)

	vocab, err := LoadVocabulary(policyPath, bodiesPath)
	if err != nil {
		t.Fatalf("LoadVocabulary: %v", err)
	}

	if len(vocab.PolicyAreas) != 3 {
		t.Errorf("policy areas = %v", vocab.PolicyAreas)
	}
	if vocab.PolicyAreas[0] != "Education" {
		t.Errorf("file order not preserved: %v", vocab.PolicyAreas)
	}
	if len(vocab.GovernmentBodies) != 2 {
		t.Errorf("government bodies = %v", vocab.GovernmentBodies)
	}
}

func TestLoadVocabularyAppendsFallback(t *testing.T) {
	policyPath, bodiesPath := writeVocabFiles(t, `
policy_areas:
  - Education
`, `
government_bodies:
  - Ministry of Education
`)

	vocab, err := LoadVocabulary(policyPath, bodiesPath)
	if err != nil {
		t.Fatalf("LoadVocabulary: %v", err)
	}

	if !vocab.Contains(FieldPolicyArea, PolicyFallback) {
		t.Errorf("fallback entry missing from %v", vocab.PolicyAreas)
	}
	if vocab.PolicyAreas[len(vocab.PolicyAreas)-1] != PolicyFallback {
		t.Errorf("fallback must be appended last: %v", vocab.PolicyAreas)
	}
}

func TestLoadVocabularyCleansEntries(t *testing.T) {
	policyPath, bodiesPath := writeVocabFiles(t, `
policy_areas:
  - " Education "
  - Education
  - ""
  - Miscellaneous
`, `
government_bodies:
  - Ministry of Health
`)

	vocab, err := LoadVocabulary(policyPath, bodiesPath)
	if err != nil {
		t.Fatalf("LoadVocabulary: %v", err)
	}

	if len(vocab.PolicyAreas) != 2 {
		t.Errorf("entries not cleaned: %v", vocab.PolicyAreas)
	}
}

func TestLoadVocabularyMissingFile(t *testing.T) {
	_, bodiesPath := writeVocabFiles(t, "policy_areas: [Education]", "government_bodies: [Ministry]")

	if _, err := LoadVocabulary(filepath.Join(t.TempDir(), "absent.yaml"), bodiesPath); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

func TestLoadVocabularyEmptyList(t *testing.T) {
	policyPath, bodiesPath := writeVocabFiles(t, "policy_areas: []", "government_bodies: [Ministry]")

	if _, err := LoadVocabulary(policyPath, bodiesPath); err == nil {
		t.Fatal("expected error for empty policy vocabulary")
	}
}

func TestMappingStats(t *testing.T) {
	stats := NewMappingStats()

	for i := 0; i < 8; i++ {
		stats.Record(Resolution{Original: "x", Resolved: "y", Method: MethodExact})
	}
	stats.Record(Resolution{Original: "a", Resolved: "Miscellaneous", Method: MethodFallback})
	stats.RecordFallbackKey("37_100")

	if stats.Counts[MethodExact] != 8 {
		t.Errorf("exact count = %d", stats.Counts[MethodExact])
	}
	if len(stats.Examples[MethodExact]) != maxExamples {
		t.Errorf("examples = %d, want capped at %d", len(stats.Examples[MethodExact]), maxExamples)
	}
	if stats.Total() != 9 {
		t.Errorf("total = %d", stats.Total())
	}
	if len(stats.FallbackKeys) != 1 {
		t.Errorf("fallback keys = %v", stats.FallbackKeys)
	}

	other := NewMappingStats()
	other.Record(Resolution{Original: "b", Resolved: "Health", Method: MethodWordOverlap})
	other.RecordFallbackKey("37_200")
	stats.Merge(other)

	if stats.Counts[MethodWordOverlap] != 1 || stats.Total() != 10 {
		t.Errorf("merge lost counts: %v", stats.Counts)
	}
	if len(stats.FallbackKeys) != 2 {
		t.Errorf("merge lost fallback keys: %v", stats.FallbackKeys)
	}
}
