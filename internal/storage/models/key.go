package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Special key categories for decisions numbered outside the plain sequence.
const (
	CategoryCommittee = "COMMITTEE"
	CategorySecurity  = "SECURITY"
	CategoryEcon      = "ECON"
	CategorySpecial   = "SPECIAL"
)

var keyPattern = regexp.MustCompile(`^\d+_(?:(COMMITTEE|SECURITY|ECON|SPECIAL)_)?\d+$`)

// ValidKey reports whether key matches one of the two accepted grammars:
// "{government}_{number}" or "{government}_{CATEGORY}_{sequence}".
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// BuildKey assembles a decision key. Category is empty for standard decisions.
func BuildKey(government int, category string, number int) string {
	if category == "" {
		return fmt.Sprintf("%d_%d", government, number)
	}
	return fmt.Sprintf("%d_%s_%d", government, category, number)
}

// ParseKey splits a decision key into its parts. Returns an error for keys
// that do not match the grammar.
func ParseKey(key string) (government int, category string, number int, err error) {
	if !ValidKey(key) {
		return 0, "", 0, fmt.Errorf("malformed decision key %q", key)
	}

	parts := strings.Split(key, "_")
	government, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", 0, fmt.Errorf("malformed decision key %q: %w", key, err)
	}

	last := parts[len(parts)-1]
	number, err = strconv.Atoi(last)
	if err != nil {
		return 0, "", 0, fmt.Errorf("malformed decision key %q: %w", key, err)
	}

	if len(parts) == 3 {
		category = parts[1]
	}
	return government, category, number, nil
}
