package profile

import "strings"

var budgetLevels = map[string]string{
	"low":      "low",
	"small":    "low",
	"limited":  "low",
	"medium":   "medium",
	"moderate": "medium",
	"mid":      "medium",
	"high":     "high",
	"large":    "high",
}

var capacityLevels = map[string]string{
	"basic":        "basic",
	"beginner":     "basic",
	"limited":      "basic",
	"intermediate": "intermediate",
	"moderate":     "intermediate",
	"advanced":     "advanced",
	"expert":       "advanced",
	"strong":       "advanced",
}

// NormalizeBudget maps a budget description onto low, medium or high when
// one of the known words appears in it. Anything else is returned trimmed
// and unchanged.
func NormalizeBudget(budget string) string {
	return normalizeLevel(budget, budgetLevels)
}

// NormalizeCapacity is NormalizeBudget for basic, intermediate and advanced.
func NormalizeCapacity(capacity string) string {
	return normalizeLevel(capacity, capacityLevels)
}

func normalizeLevel(value string, levels map[string]string) string {
	trimmed := strings.TrimSpace(value)
	words := strings.FieldsFunc(strings.ToLower(trimmed), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	for _, w := range words {
		if level, ok := levels[w]; ok {
			return level
		}
	}
	return trimmed
}
