package extract

import (
	"sort"
	"strings"
)

// stopwords excluded from trigger keyword derivation.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "how": true, "what": true,
	"can": true, "you": true, "are": true, "its": true, "but": true,
	"not": true, "use": true, "using": true, "when": true, "does": true,
	"have": true, "has": true, "should": true, "would": true, "about": true,
}

// commonKeywords returns the words appearing in at least half of the
// queries, most frequent first (ties alphabetical) so derivation is
// deterministic across runs.
func commonKeywords(queries []string) []string {
	if len(queries) == 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, q := range queries {
		seen := make(map[string]bool)
		for _, w := range tokenize(q) {
			if !seen[w] {
				seen[w] = true
				counts[w]++
			}
		}
	}

	required := (len(queries) + 1) / 2
	var keywords []string
	for w, n := range counts {
		if n >= required {
			keywords = append(keywords, w)
		}
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	return keywords
}

// tokenize lowercases and splits on non-alphanumeric bytes, dropping short
// tokens and stopwords.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// longestCommonSubstring of two strings, classic O(len(a)*len(b)) DP with a
// rolling row.
func longestCommonSubstring(a, b string) string {
	if len(a) == 0 || len(b) == 0 {
		return ""
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	best, bestEnd := 0, 0

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > best {
					best = curr[j]
					bestEnd = i
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return a[bestEnd-best : bestEnd]
}

// sharedSubstring folds longestCommonSubstring across all responses.
func sharedSubstring(responses []string) string {
	if len(responses) == 0 {
		return ""
	}
	acc := responses[0]
	for _, r := range responses[1:] {
		acc = longestCommonSubstring(acc, r)
		if acc == "" {
			return ""
		}
	}
	return acc
}

// modalLength returns the most frequent response length; ties resolve to
// the smaller length so truncation is conservative.
func modalLength(responses []string) int {
	counts := make(map[int]int)
	for _, r := range responses {
		counts[len(r)]++
	}
	bestLen, bestCount := 0, 0
	for l, n := range counts {
		if n > bestCount || (n == bestCount && l < bestLen) {
			bestLen, bestCount = l, n
		}
	}
	return bestLen
}

// deriveTemplate produces the cluster's solution template: the longest
// meaningful substring shared by all member responses, falling back to the
// first member's response truncated to the cluster's modal length.
func deriveTemplate(responses []string, minLength int) string {
	shared := strings.TrimSpace(sharedSubstring(responses))
	if len(shared) >= minLength {
		return shared
	}
	first := responses[0]
	if l := modalLength(responses); len(first) > l {
		first = first[:l]
	}
	return strings.TrimSpace(first)
}

// classifyType buckets a pattern by its trigger keywords and template.
func classifyType(keywords []string, template string) string {
	kw := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		kw[k] = true
	}

	switch {
	case kw["error"] || kw["fix"] || kw["fails"] || kw["failed"] || kw["crash"] || kw["bug"]:
		return "error-fix"
	case kw["config"] || kw["configure"] || kw["enable"] || kw["service"] || kw["setting"] || kw["settings"]:
		return "config-template"
	case kw["code"] || kw["function"] || kw["implement"] || kw["method"] || kw["snippet"]:
		return "code-idiom"
	case hasStepMarkers(template):
		return "workflow"
	default:
		return "best-practice"
	}
}

// hasStepMarkers detects explicit step sequences in a template.
func hasStepMarkers(template string) bool {
	lower := strings.ToLower(template)
	if strings.Contains(lower, "step 1") || strings.Contains(lower, "step one") {
		return true
	}
	return strings.Contains(template, "1.") && strings.Contains(template, "2.")
}

// patternName builds a stable human-readable name from the top trigger
// keywords, falling back to the leading words of the seed query.
func patternName(keywords []string, seedQuery string) string {
	words := keywords
	if len(words) > 4 {
		words = words[:4]
	}
	if len(words) == 0 {
		words = tokenize(seedQuery)
		if len(words) > 4 {
			words = words[:4]
		}
	}
	if len(words) == 0 {
		return "unnamed pattern"
	}
	return strings.Join(words, " ")
}

// NormalizeName canonicalizes a pattern name for dedupe: lowercase,
// hyphen-joined tokens. Federation import uses the same normalization when
// checking for name collisions.
func NormalizeName(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return strings.Join(fields, "-")
}
