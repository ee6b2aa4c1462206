package tagging

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/pkg/logger"
)

// Method identifies which step of the fallback chain resolved a tag.
type Method string

const (
	MethodExact       Method = "exact"
	MethodSubstring   Method = "substring"
	MethodWordOverlap Method = "word_overlap"
	MethodAITag       Method = "ai_tag"
	MethodAISummary   Method = "ai_summary"
	MethodFallback    Method = "fallback"
)

// TagProposer is the single external call of the chain: given supporting
// text and the authorized list, return one free-text candidate. The answer
// carries no structural guarantee and is validated here before use.
type TagProposer interface {
	ProposeTag(ctx context.Context, text string, vocabulary []string) (string, error)
}

// Resolution records how one candidate tag was resolved.
type Resolution struct {
	Original string
	Resolved string
	Method   Method
}

// Validator reconciles free-text tag candidates against the authorized
// vocabulary through an ordered, short-circuiting chain:
// exact, substring, word overlap, one AI call, terminal fallback.
// Stateless given its inputs; safe for concurrent use.
type Validator struct {
	vocab    *Vocabulary
	proposer TagProposer
	logger   *zap.Logger
}

func NewValidator(vocab *Vocabulary, proposer TagProposer) *Validator {
	return &Validator{
		vocab:    vocab,
		proposer: proposer,
		logger:   logger.GetLogger(),
	}
}

// Validate resolves a single candidate tag to a vocabulary member or the
// field's fallback sentinel. Proposer failures never propagate; they fall
// through to the sentinel.
func (v *Validator) Validate(ctx context.Context, candidate string, field Field, summary string) Resolution {
	original := candidate
	candidate = strings.TrimSpace(candidate)
	entries := v.vocab.Entries(field)

	if candidate == "" {
		return Resolution{Original: original, Resolved: v.vocab.Fallback(field), Method: MethodFallback}
	}

	if contains(entries, candidate) {
		return Resolution{Original: original, Resolved: candidate, Method: MethodExact}
	}

	if resolved, ok := v.substringMatch(candidate, entries); ok {
		return Resolution{Original: original, Resolved: resolved, Method: MethodSubstring}
	}

	if resolved, ok := v.wordOverlapMatch(candidate, entries); ok {
		return Resolution{Original: original, Resolved: resolved, Method: MethodWordOverlap}
	}

	if resolved, method, ok := v.proposeMatch(ctx, candidate, summary, entries); ok {
		return Resolution{Original: original, Resolved: resolved, Method: method}
	}

	return Resolution{Original: original, Resolved: v.vocab.Fallback(field), Method: MethodFallback}
}

// ValidateList resolves a semicolon-delimited candidate list: each sub-tag
// goes through the chain, empty resolutions are dropped, the result is
// deduplicated preserving order and capped. The second return value lists
// every individual resolution for stats.
func (v *Validator) ValidateList(ctx context.Context, candidates string, field Field, summary string) (string, []Resolution) {
	parts := SplitTags(candidates)
	if len(parts) == 0 {
		return "", nil
	}

	resolutions := make([]Resolution, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	var resolved []string

	for _, part := range parts {
		res := v.Validate(ctx, part, field, summary)
		resolutions = append(resolutions, res)

		if res.Resolved == "" || seen[res.Resolved] {
			continue
		}
		seen[res.Resolved] = true
		resolved = append(resolved, res.Resolved)
	}

	if len(resolved) > models.MaxTagsPerField {
		resolved = resolved[:models.MaxTagsPerField]
	}

	return strings.Join(resolved, models.TagSeparator), resolutions
}

// substringMatch accepts the first entry whose normalized form contains the
// normalized candidate. Containment runs one way only: a candidate longer
// than the entry never matches it, so "Educational Affairs" does not resolve
// to "Education" here.
func (v *Validator) substringMatch(candidate string, entries []string) (string, bool) {
	normalized := strings.ToLower(candidate)
	if len([]rune(normalized)) <= 2 {
		return "", false
	}

	for _, entry := range entries {
		if strings.Contains(strings.ToLower(entry), normalized) {
			return entry, true
		}
	}
	return "", false
}

// wordOverlapMatch scores the candidate against every entry by Jaccard
// similarity over meaningful-word sets and accepts the best entry when its
// score is strictly above 0.5. Ties keep the earliest entry. Skipped when
// the candidate has fewer than two meaningful words.
func (v *Validator) wordOverlapMatch(candidate string, entries []string) (string, bool) {
	candidateWords := meaningfulWords(candidate)
	if len(candidateWords) < 2 {
		return "", false
	}

	best := 0.0
	bestEntry := ""
	for _, entry := range entries {
		entryWords := meaningfulWords(entry)
		if len(entryWords) == 0 {
			continue
		}

		score := jaccard(candidateWords, entryWords)
		if score > best {
			best = score
			bestEntry = entry
		}
	}

	if best > 0.5 {
		return bestEntry, true
	}
	return "", false
}

// proposeMatch issues at most one proposer call. The supporting text is the
// record summary when available, otherwise the raw candidate. The answer is
// accepted only on exact membership; any error or non-member answer fails
// the step silently.
func (v *Validator) proposeMatch(ctx context.Context, candidate, summary string, entries []string) (string, Method, bool) {
	if v.proposer == nil {
		return "", MethodFallback, false
	}

	text := summary
	method := MethodAISummary
	if strings.TrimSpace(text) == "" {
		text = candidate
		method = MethodAITag
	}

	answer, err := v.proposer.ProposeTag(ctx, text, entries)
	if err != nil {
		v.logger.Debug("Tag proposal failed, falling through",
			zap.String("candidate", candidate),
			zap.Error(err),
		)
		return "", method, false
	}

	answer = strings.TrimSpace(answer)
	if contains(entries, answer) {
		return answer, method, true
	}

	v.logger.Debug("Tag proposal outside vocabulary, falling through",
		zap.String("candidate", candidate),
		zap.String("answer", answer),
	)
	return "", method, false
}

// SplitTags breaks a semicolon-delimited tag field into trimmed, non-empty
// parts.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var parts []string
	for _, p := range strings.Split(raw, models.TagSeparator) {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// CleanList normalizes a free-form tag list that has no vocabulary (location
// tags): trim, drop empties, deduplicate preserving order, cap.
func CleanList(raw string) string {
	parts := SplitTags(raw)
	if len(parts) == 0 {
		return ""
	}

	seen := make(map[string]bool, len(parts))
	var out []string
	for _, p := range parts {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}

	if len(out) > models.MaxTagsPerField {
		out = out[:models.MaxTagsPerField]
	}
	return strings.Join(out, models.TagSeparator)
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "are": true, "was": true, "were": true,
	"will": true, "have": true, "has": true, "been": true, "its": true,
	"into": true, "within": true, "such": true, "other": true, "all": true,
}

// meaningfulWords tokenizes text into a set of lowercase words longer than
// two runes, stop-words excluded.
func meaningfulWords(text string) map[string]bool {
	words := make(map[string]bool)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, w := range fields {
		if len([]rune(w)) <= 2 || stopWords[w] {
			continue
		}
		words[w] = true
	}
	return words
}

// wordsMatch treats two tokens as the same word when they are equal or one
// is a prefix of the other with at least four shared runes, so inflected
// forms like "educational" and "education" coincide.
func wordsMatch(a, b string) bool {
	if a == b {
		return true
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	return len([]rune(shorter)) >= 4 && strings.HasPrefix(longer, shorter)
}

// jaccard is intersection over union of the two word sets, with wordsMatch
// as the equality relation.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	shared := 0
	for wa := range a {
		for wb := range b {
			if wordsMatch(wa, wb) {
				shared++
				break
			}
		}
	}

	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
