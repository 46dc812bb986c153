package routing

import "strings"

// Complexity buckets. The estimate is a deliberately coarse keyword
// heuristic: it exists to bias open-ended reasoning tasks toward the remote
// backend and rote lookups toward the local one, not to classify precisely.
const (
	complexityHigh   = 8
	complexityMedium = 5
	complexityLow    = 2
)

// highComplexityVerbs mark open-ended design and architecture work.
var highComplexityVerbs = []string{
	"design", "architect", "architecture", "refactor", "restructure",
	"migrate", "redesign", "optimize", "scale", "distributed",
}

// mediumComplexityVerbs mark explanatory and diagnostic work.
var mediumComplexityVerbs = []string{
	"explain", "compare", "debug", "analyze", "why", "difference",
	"troubleshoot", "investigate", "review",
}

// EstimateComplexity scores the query text into 1-10. The thresholds are
// tunable defaults, not load-bearing constants.
func EstimateComplexity(query string) int {
	q := strings.ToLower(query)
	for _, verb := range highComplexityVerbs {
		if containsWord(q, verb) {
			return complexityHigh
		}
	}
	for _, verb := range mediumComplexityVerbs {
		if containsWord(q, verb) {
			return complexityMedium
		}
	}
	return complexityLow
}

// containsWord matches word at word boundaries only, so "designated" does
// not trigger the "design" bucket.
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
