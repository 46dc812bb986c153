package coordinator

import (
	"fmt"
	"strings"

	"github.com/pkorolov/weir/internal/retrieval"
	"github.com/pkorolov/weir/internal/telemetry"
)

const defaultMaxContextTokens = 4000

// buildPrompt prepends retrieved context to the user query, staying within
// the token budget by dropping lowest-scoring matches first. Matches arrive
// already sorted by score descending from the retriever.
func buildPrompt(query string, matches []retrieval.Match, maxContextTokens int) string {
	if len(matches) == 0 {
		return query
	}
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}

	header := "Relevant context from prior interactions and stored knowledge:\n\n"
	remaining := maxContextTokens - estimateTokens(header)

	var selected []string
	for _, m := range matches {
		entry := formatMatch(m)
		tokens := estimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}
	if len(selected) == 0 {
		return query
	}

	var sb strings.Builder
	sb.WriteString(header)
	for _, entry := range selected {
		sb.WriteString(entry)
	}
	sb.WriteString("---\n\n")
	sb.WriteString(query)
	return sb.String()
}

func formatMatch(m retrieval.Match) string {
	return fmt.Sprintf("(Score: %.2f, Source: %s:%s)\n%s\n\n", m.Score, m.Collection, m.ID, m.Snippet(0))
}

// estimateTokens uses the rough 4 chars per token heuristic.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// contextRefs converts matches into the compact form persisted on a
// telemetry record. Snippets are truncated; the full payload stays in the
// vector store.
func contextRefs(matches []retrieval.Match) []telemetry.ContextRef {
	if len(matches) == 0 {
		return nil
	}
	refs := make([]telemetry.ContextRef, len(matches))
	for i, m := range matches {
		refs[i] = telemetry.ContextRef{
			Collection: m.Collection,
			Score:      m.Score,
			Snippet:    m.Snippet(snippetLength),
		}
	}
	return refs
}
