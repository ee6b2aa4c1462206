package tagging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/govdecisions/backend/pkg/logger"
)

// PolicyFallback is the terminal sentinel for policy-area fields.
// BodyFallback is the sentinel for government-body fields: unresolvable body
// tags are dropped rather than mislabeled.
const (
	PolicyFallback = "Miscellaneous"
	BodyFallback   = ""
)

type Field int

const (
	FieldPolicyArea Field = iota
	FieldGovernmentBody
)

func (f Field) String() string {
	switch f {
	case FieldPolicyArea:
		return "policy_area"
	case FieldGovernmentBody:
		return "government_body"
	default:
		return "unknown"
	}
}

// Vocabulary is the closed set of authorized tag values, loaded once at
// startup and passed by reference. Entry order is the tie-break order for
// fuzzy matching.
type Vocabulary struct {
	PolicyAreas      []string
	GovernmentBodies []string
}

type policyAreasFile struct {
	PolicyAreas []string `yaml:"policy_areas"`
}

type governmentBodiesFile struct {
	GovernmentBodies []string `yaml:"government_bodies"`
}

// LoadVocabulary reads both vocabulary files. The policy list is guaranteed
// to contain the catch-all fallback entry even when the file omits it.
func LoadVocabulary(policyAreasPath, governmentBodiesPath string) (*Vocabulary, error) {
	policyData, err := os.ReadFile(policyAreasPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy areas file: %w", err)
	}

	var policy policyAreasFile
	if err := yaml.Unmarshal(policyData, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy areas file: %w", err)
	}

	bodiesData, err := os.ReadFile(governmentBodiesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read government bodies file: %w", err)
	}

	var bodies governmentBodiesFile
	if err := yaml.Unmarshal(bodiesData, &bodies); err != nil {
		return nil, fmt.Errorf("failed to parse government bodies file: %w", err)
	}

	vocab := &Vocabulary{
		PolicyAreas:      cleanEntries(policy.PolicyAreas),
		GovernmentBodies: cleanEntries(bodies.GovernmentBodies),
	}

	if len(vocab.PolicyAreas) == 0 {
		return nil, fmt.Errorf("policy areas vocabulary is empty: %s", policyAreasPath)
	}
	if len(vocab.GovernmentBodies) == 0 {
		return nil, fmt.Errorf("government bodies vocabulary is empty: %s", governmentBodiesPath)
	}

	if !contains(vocab.PolicyAreas, PolicyFallback) {
		logger.Warn("Policy vocabulary is missing the fallback entry, appending it",
			zap.String("entry", PolicyFallback),
			zap.String("path", policyAreasPath),
		)
		vocab.PolicyAreas = append(vocab.PolicyAreas, PolicyFallback)
	}

	logger.Info("Vocabulary loaded",
		zap.Int("policy_areas", len(vocab.PolicyAreas)),
		zap.Int("government_bodies", len(vocab.GovernmentBodies)),
	)

	return vocab, nil
}

// Entries returns the authorized list for a field, in file order.
func (v *Vocabulary) Entries(field Field) []string {
	if field == FieldGovernmentBody {
		return v.GovernmentBodies
	}
	return v.PolicyAreas
}

// Fallback returns the terminal sentinel for a field.
func (v *Vocabulary) Fallback(field Field) string {
	if field == FieldGovernmentBody {
		return BodyFallback
	}
	return PolicyFallback
}

// Contains reports exact membership of tag in the field's list.
func (v *Vocabulary) Contains(field Field, tag string) bool {
	return contains(v.Entries(field), tag)
}

func contains(entries []string, tag string) bool {
	for _, e := range entries {
		if e == tag {
			return true
		}
	}
	return false
}

func cleanEntries(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, e := range raw {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
