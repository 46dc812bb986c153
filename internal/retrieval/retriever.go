package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/pkorolov/weir/internal/vector"
)

const (
	// DefaultLimit caps merged results to bound prompt size.
	DefaultLimit = 5

	// DefaultScoreThreshold drops low-confidence matches. Context below this
	// similarity biases the local backend toward wrong answers, which is
	// worse than no context at all.
	DefaultScoreThreshold = 0.7

	defaultCollectionTimeout = 3 * time.Second
	maxConcurrentSearches    = 4
)

// Searcher is the capability the retriever needs from the vector store.
type Searcher interface {
	Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.ScoredPoint, error)
}

// Match is one retrieval result: a scored point tagged with the collection
// it came from.
type Match struct {
	Collection string
	ID         string
	Score      float64
	Envelope   vector.Envelope
}

// Snippet returns a truncated text preview of the match payload, suitable
// for embedding in a prompt or an interaction record. The cut backs up to a
// rune boundary so truncation never produces invalid UTF-8.
func (m Match) Snippet(maxLen int) string {
	text := m.Envelope.Text()
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// Retriever fans a query vector out across named collections and merges
// the results.
type Retriever struct {
	store             Searcher
	collectionTimeout time.Duration
}

// NewRetriever creates a Retriever over the given store. collectionTimeout
// bounds each per-collection search; <= 0 selects the default (3s).
func NewRetriever(store Searcher, collectionTimeout time.Duration) *Retriever {
	if collectionTimeout <= 0 {
		collectionTimeout = defaultCollectionTimeout
	}
	return &Retriever{store: store, collectionTimeout: collectionTimeout}
}

// Retrieve searches each requested collection concurrently and returns the
// merged matches, score descending, thresholded and capped.
//
// A collection whose search fails or times out contributes nothing and is
// logged as a warning; the call itself never fails. When every collection
// fails the result is simply empty, so downstream routing degrades to the
// remote backend gracefully.
func (r *Retriever) Retrieve(ctx context.Context, queryVec []float32, collections []string, limit int, scoreThreshold float64) []Match {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if scoreThreshold <= 0 {
		scoreThreshold = DefaultScoreThreshold
	}
	if len(queryVec) == 0 || len(collections) == 0 {
		return nil
	}

	var mu sync.Mutex
	var merged []Match

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSearches)

	for _, coll := range collections {
		g.Go(func() error {
			searchCtx, cancel := context.WithTimeout(gCtx, r.collectionTimeout)
			defer cancel()

			scored, err := r.store.Search(searchCtx, coll, queryVec, limit)
			if err != nil {
				slog.Warn("retrieval: collection search failed, treating as empty",
					"collection", coll, "error", err)
				return nil
			}

			mu.Lock()
			for _, sp := range scored {
				if sp.Score < scoreThreshold {
					continue
				}
				merged = append(merged, Match{
					Collection: coll,
					ID:         sp.ID,
					Score:      sp.Score,
					Envelope:   sp.Envelope,
				})
			}
			mu.Unlock()
			return nil
		})
	}

	// Search goroutines never return errors; Wait is just the join point.
	_ = g.Wait()

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// BestScore returns the top similarity score among matches, or 0 when
// nothing was retrieved. The routing engine keys off this value.
func BestScore(matches []Match) float64 {
	if len(matches) == 0 {
		return 0
	}
	return matches[0].Score
}
