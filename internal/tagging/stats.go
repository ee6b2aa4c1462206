package tagging

// maxExamples caps the sampled resolutions kept per method.
const maxExamples = 5

type Example struct {
	Original string
	Resolved string
}

// MappingStats accumulates, per migration run, how many tags each chain
// step resolved, with a few sampled examples per method and the full list of
// record keys that ended on the fallback sentinel. Observability only.
type MappingStats struct {
	Counts       map[Method]int
	Examples     map[Method][]Example
	FallbackKeys []string
}

func NewMappingStats() *MappingStats {
	return &MappingStats{
		Counts:   make(map[Method]int),
		Examples: make(map[Method][]Example),
	}
}

func (s *MappingStats) Record(res Resolution) {
	s.Counts[res.Method]++
	if len(s.Examples[res.Method]) < maxExamples {
		s.Examples[res.Method] = append(s.Examples[res.Method], Example{
			Original: res.Original,
			Resolved: res.Resolved,
		})
	}
}

// RecordFallbackKey remembers a record whose tag ended on the sentinel.
func (s *MappingStats) RecordFallbackKey(key string) {
	s.FallbackKeys = append(s.FallbackKeys, key)
}

func (s *MappingStats) Total() int {
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	return total
}

// Merge folds other into s.
func (s *MappingStats) Merge(other *MappingStats) {
	if other == nil {
		return
	}
	for method, n := range other.Counts {
		s.Counts[method] += n
	}
	for method, examples := range other.Examples {
		for _, ex := range examples {
			if len(s.Examples[method]) >= maxExamples {
				break
			}
			s.Examples[method] = append(s.Examples[method], ex)
		}
	}
	s.FallbackKeys = append(s.FallbackKeys, other.FallbackKeys...)
}
