package vision

import (
	"strings"

	"github.com/projectlend/lend/internal/types"
)

// Normalize maps a raw classifier answer onto the closed category set.
// Matching is case-insensitive and tolerant of punctuation and padding:
// "Fruit", "FRUIT!!" and " fruit " all resolve to fruit. As a last resort
// a substring match is attempted, so "it's a drink bottle" resolves to drink.
func Normalize(raw string) (types.Category, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r == ' ' {
			return r
		}
		return -1
	}, cleaned)
	cleaned = strings.TrimSpace(cleaned)

	if cat := types.Category(cleaned); cat.Valid() {
		return cat, true
	}

	for _, cat := range types.Categories() {
		if strings.Contains(cleaned, string(cat)) {
			return cat, true
		}
	}

	return "", false
}

// NormalizeOrFallback resolves raw to a known category, defaulting to
// fallback when the answer is outside the known set. The fallback policy is
// deliberate: an ambiguous answer should still move the item to a bin rather
// than drop it on the floor.
func NormalizeOrFallback(raw string, fallback types.Category) types.Category {
	if cat, ok := Normalize(raw); ok {
		return cat
	}
	return fallback
}
