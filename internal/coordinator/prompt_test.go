package coordinator

import (
	"strings"
	"testing"

	"github.com/pkorolov/weir/internal/retrieval"
	"github.com/pkorolov/weir/internal/vector"
)

func knowledgeMatch(id string, score float64, content string) retrieval.Match {
	return retrieval.Match{
		Collection: vector.CollectionBestPractices,
		ID:         id,
		Score:      score,
		Envelope: vector.Envelope{
			ID: id, Kind: vector.KindKnowledge,
			Knowledge: &vector.KnowledgePayload{Title: id, Content: content},
		},
	}
}

func TestBuildPrompt_NoMatchesIsBareQuery(t *testing.T) {
	if got := buildPrompt("just the query", nil, 0); got != "just the query" {
		t.Errorf("got %q", got)
	}
}

func TestBuildPrompt_IncludesContextAndQuery(t *testing.T) {
	matches := []retrieval.Match{
		knowledgeMatch("a", 0.95, "first piece of context"),
		knowledgeMatch("b", 0.80, "second piece of context"),
	}
	got := buildPrompt("the question", matches, 0)

	for _, want := range []string{"first piece of context", "second piece of context", "the question", "---"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(got, "Score: 0.95") {
		t.Errorf("prompt missing score annotation:\n%s", got)
	}
	if !strings.HasSuffix(got, "the question") {
		t.Error("query must come last")
	}
}

func TestBuildPrompt_BudgetDropsLowestScoredFirst(t *testing.T) {
	big := strings.Repeat("x", 2000)
	matches := []retrieval.Match{
		knowledgeMatch("keep", 0.95, "small high-value context"),
		knowledgeMatch("drop", 0.80, big),
	}

	// A budget that fits the small entry but not the large one.
	got := buildPrompt("q", matches, 100)
	if !strings.Contains(got, "small high-value context") {
		t.Error("high-scoring entry dropped")
	}
	if strings.Contains(got, big) {
		t.Error("oversized entry not dropped")
	}
}

func TestBuildPrompt_NothingFitsFallsBackToQuery(t *testing.T) {
	matches := []retrieval.Match{knowledgeMatch("a", 0.9, strings.Repeat("y", 4000))}
	if got := buildPrompt("short query", matches, 50); got != "short query" {
		t.Errorf("got %q, want bare query", got)
	}
}

func TestContextRefs_TruncatesSnippets(t *testing.T) {
	long := strings.Repeat("z", snippetLength*2)
	refs := contextRefs([]retrieval.Match{knowledgeMatch("a", 0.9, long)})
	if len(refs) != 1 {
		t.Fatalf("refs = %+v", refs)
	}
	if len(refs[0].Snippet) != snippetLength {
		t.Errorf("snippet length = %d, want %d", len(refs[0].Snippet), snippetLength)
	}
	if refs[0].Collection != vector.CollectionBestPractices || refs[0].Score != 0.9 {
		t.Errorf("ref = %+v", refs[0])
	}
}

func TestContextRefs_Empty(t *testing.T) {
	if refs := contextRefs(nil); refs != nil {
		t.Errorf("contextRefs(nil) = %v", refs)
	}
}
