package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// whitespaceRegex matches one or more whitespace characters (spaces, tabs, newlines).
var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeKeyword normalizes a keyword string by:
// - Converting to lowercase
// - Trimming leading/trailing whitespace
// - Collapsing multiple whitespace characters into a single space
func NormalizeKeyword(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// PrepareKeywords turns raw user input into the keyword list of a batch.
// Entries are trimmed, blank entries are dropped, and entries whose normalized
// form was already seen are dropped, keeping the first occurrence. The result
// must hold between 1 and maxJobs keywords.
func PrepareKeywords(raw []string, maxJobs int) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	keywords := make([]string, 0, len(raw))

	for _, kw := range raw {
		trimmed := strings.TrimSpace(kw)
		if trimmed == "" {
			continue
		}
		norm := NormalizeKeyword(trimmed)
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		keywords = append(keywords, trimmed)
	}

	if len(keywords) == 0 {
		return nil, NewValidationError("keywords", "at least one non-empty keyword is required")
	}
	if maxJobs > 0 && len(keywords) > maxJobs {
		return nil, NewValidationError("keywords", fmt.Sprintf("batch of %d keywords exceeds the limit of %d", len(keywords), maxJobs))
	}
	return keywords, nil
}
