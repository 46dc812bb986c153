package retrieval

import (
	"context"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/pkorolov/weir/internal/vector"
)

// mockSearcher serves canned results per collection and can fail named
// collections.
type mockSearcher struct {
	results map[string][]vector.ScoredPoint
	failing map[string]bool
}

func (m *mockSearcher) Search(_ context.Context, collection string, _ []float32, topK int) ([]vector.ScoredPoint, error) {
	if m.failing[collection] {
		return nil, fmt.Errorf("collection %s unavailable", collection)
	}
	scored := m.results[collection]
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func scored(id string, score float64) vector.ScoredPoint {
	return vector.ScoredPoint{
		Point: vector.Point{
			ID: id,
			Envelope: vector.Envelope{
				ID:        id,
				Kind:      vector.KindKnowledge,
				Knowledge: &vector.KnowledgePayload{Title: id, Content: "content for " + id},
			},
		},
		Score: score,
	}
}

func TestRetrieve_MergesAndSortsAcrossCollections(t *testing.T) {
	store := &mockSearcher{results: map[string][]vector.ScoredPoint{
		"error-fixes":    {scored("fix1", 0.91), scored("fix2", 0.72)},
		"patterns":       {scored("pat1", 0.88)},
		"best-practices": {scored("bp1", 0.95)},
	}}
	r := NewRetriever(store, 0)

	matches := r.Retrieve(context.Background(), []float32{1, 0}, []string{"error-fixes", "patterns", "best-practices"}, 10, 0)
	if len(matches) != 4 {
		t.Fatalf("got %d matches, want 4", len(matches))
	}

	wantOrder := []string{"bp1", "fix1", "pat1", "fix2"}
	for i, want := range wantOrder {
		if matches[i].ID != want {
			t.Errorf("matches[%d] = %s, want %s", i, matches[i].ID, want)
		}
	}
	if matches[0].Collection != "best-practices" {
		t.Errorf("collection tag lost: %s", matches[0].Collection)
	}
}

func TestRetrieve_ThresholdDropsWeakMatches(t *testing.T) {
	store := &mockSearcher{results: map[string][]vector.ScoredPoint{
		"patterns": {scored("strong", 0.9), scored("weak", 0.5)},
	}}
	r := NewRetriever(store, 0)

	matches := r.Retrieve(context.Background(), []float32{1}, []string{"patterns"}, 10, 0)
	if len(matches) != 1 || matches[0].ID != "strong" {
		t.Errorf("default threshold should drop 0.5 match: %+v", matches)
	}
}

func TestRetrieve_CapsToLimit(t *testing.T) {
	store := &mockSearcher{results: map[string][]vector.ScoredPoint{
		"a": {scored("a1", 0.99), scored("a2", 0.98), scored("a3", 0.97)},
		"b": {scored("b1", 0.96), scored("b2", 0.95)},
	}}
	r := NewRetriever(store, 0)

	matches := r.Retrieve(context.Background(), []float32{1}, []string{"a", "b"}, 3, 0)
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want limit 3", len(matches))
	}
	if matches[0].ID != "a1" || matches[2].ID != "a3" {
		t.Errorf("cap kept wrong matches: %v, %v, %v", matches[0].ID, matches[1].ID, matches[2].ID)
	}
}

func TestRetrieve_FailingCollectionDegrades(t *testing.T) {
	store := &mockSearcher{
		results: map[string][]vector.ScoredPoint{"patterns": {scored("p1", 0.9)}},
		failing: map[string]bool{"error-fixes": true},
	}
	r := NewRetriever(store, 0)

	matches := r.Retrieve(context.Background(), []float32{1}, []string{"error-fixes", "patterns"}, 5, 0)
	if len(matches) != 1 || matches[0].ID != "p1" {
		t.Errorf("failing collection should contribute nothing: %+v", matches)
	}
}

func TestRetrieve_AllCollectionsFailingReturnsEmpty(t *testing.T) {
	store := &mockSearcher{failing: map[string]bool{"a": true, "b": true}}
	r := NewRetriever(store, 0)

	matches := r.Retrieve(context.Background(), []float32{1}, []string{"a", "b"}, 5, 0)
	if len(matches) != 0 {
		t.Errorf("got %d matches, want 0", len(matches))
	}
}

func TestRetrieve_NilVectorOrNoCollections(t *testing.T) {
	store := &mockSearcher{results: map[string][]vector.ScoredPoint{"a": {scored("a1", 0.9)}}}
	r := NewRetriever(store, 0)

	if m := r.Retrieve(context.Background(), nil, []string{"a"}, 5, 0); m != nil {
		t.Errorf("nil vector: got %+v", m)
	}
	if m := r.Retrieve(context.Background(), []float32{1}, nil, 5, 0); m != nil {
		t.Errorf("no collections: got %+v", m)
	}
}

func TestBestScore(t *testing.T) {
	if got := BestScore(nil); got != 0 {
		t.Errorf("BestScore(nil) = %v, want 0", got)
	}
	matches := []Match{{Score: 0.92}, {Score: 0.8}}
	if got := BestScore(matches); got != 0.92 {
		t.Errorf("BestScore = %v, want 0.92", got)
	}
}

func TestMatch_Snippet(t *testing.T) {
	m := Match{Envelope: vector.Envelope{
		Knowledge: &vector.KnowledgePayload{Content: "0123456789"},
	}}
	if got := m.Snippet(4); got != "0123" {
		t.Errorf("Snippet(4) = %q", got)
	}
	if got := m.Snippet(0); got != "0123456789" {
		t.Errorf("Snippet(0) = %q", got)
	}
	if got := m.Snippet(100); got != "0123456789" {
		t.Errorf("Snippet(100) = %q", got)
	}
}

func TestMatch_SnippetNeverSplitsRunes(t *testing.T) {
	// "héllo wörld": é and ö are two bytes each, so naive byte slicing can
	// land mid-rune. The cut must back up to the rune boundary.
	m := Match{Envelope: vector.Envelope{
		Knowledge: &vector.KnowledgePayload{Content: "héllo wörld"},
	}}
	for maxLen := 1; maxLen <= len("héllo wörld"); maxLen++ {
		got := m.Snippet(maxLen)
		if !utf8.ValidString(got) {
			t.Errorf("Snippet(%d) = %q is not valid UTF-8", maxLen, got)
		}
		if len(got) > maxLen {
			t.Errorf("Snippet(%d) = %q exceeds the byte limit", maxLen, got)
		}
	}
	if got := m.Snippet(2); got != "h" {
		t.Errorf("Snippet(2) = %q, want the cut backed up past é", got)
	}
}
