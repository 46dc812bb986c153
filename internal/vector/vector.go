package vector

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Well-known collection names. Each collection holds one category of
// stored knowledge and is created lazily on first upsert.
const (
	CollectionHistory       = "interaction-history"
	CollectionPatterns      = "patterns"
	CollectionErrorFixes    = "error-fixes"
	CollectionBestPractices = "best-practices"
)

// ErrNotFound is returned when a requested point does not exist.
var ErrNotFound = errors.New("not found")

// Kind discriminates the payload variant carried by an Envelope.
type Kind string

const (
	KindInteraction Kind = "interaction"
	KindPattern     Kind = "pattern"
	KindKnowledge   Kind = "knowledge"
)

// Envelope is the shared wrapper around every collection payload. Exactly
// one variant must be set and it must match Kind; Validate enforces this at
// the collection boundary so loosely-typed payloads never enter the store.
type Envelope struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category,omitempty"`

	Interaction *InteractionPayload `json:"interaction,omitempty"`
	Pattern     *PatternPayload     `json:"pattern,omitempty"`
	Knowledge   *KnowledgePayload   `json:"knowledge,omitempty"`
}

// InteractionPayload is the searchable projection of a logged interaction.
type InteractionPayload struct {
	Query      string  `json:"query"`
	Response   string  `json:"response"`
	Backend    string  `json:"backend"`
	Outcome    string  `json:"outcome"`
	ValueScore float64 `json:"value_score"`
}

// PatternPayload is a generalized, versioned solution template.
type PatternPayload struct {
	Name             string   `json:"name"`
	NormalizedName   string   `json:"normalized_name"`
	Type             string   `json:"type"`
	TriggerKeywords  []string `json:"trigger_keywords,omitempty"`
	SolutionTemplate string   `json:"solution_template"`
	Prerequisites    []string `json:"prerequisites,omitempty"`
	SourceCount      int      `json:"source_count"`
	AvgValueScore    float64  `json:"avg_value_score"`
	Version          int      `json:"version"`
	PreviousVersion  string   `json:"previous_version,omitempty"` // point ID of the prior version
}

// KnowledgePayload is a curated knowledge document (best practice, note).
type KnowledgePayload struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Source  string   `json:"source"`
	Tags    []string `json:"tags,omitempty"`
}

// Validate checks the envelope invariants: non-empty ID, a known kind, and
// exactly one payload variant matching that kind.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope: missing id")
	}

	set := 0
	if e.Interaction != nil {
		set++
	}
	if e.Pattern != nil {
		set++
	}
	if e.Knowledge != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("envelope %s: expected exactly one payload variant, got %d", e.ID, set)
	}

	switch e.Kind {
	case KindInteraction:
		if e.Interaction == nil {
			return fmt.Errorf("envelope %s: kind %q without interaction payload", e.ID, e.Kind)
		}
	case KindPattern:
		if e.Pattern == nil {
			return fmt.Errorf("envelope %s: kind %q without pattern payload", e.ID, e.Kind)
		}
		if e.Pattern.Version < 1 {
			return fmt.Errorf("envelope %s: pattern version must be >= 1", e.ID)
		}
	case KindKnowledge:
		if e.Knowledge == nil {
			return fmt.Errorf("envelope %s: kind %q without knowledge payload", e.ID, e.Kind)
		}
	default:
		return fmt.Errorf("envelope %s: unknown kind %q", e.ID, e.Kind)
	}
	return nil
}

// Text returns the representative text of the payload, used for embedding
// and for context snippets.
func (e Envelope) Text() string {
	switch {
	case e.Interaction != nil:
		return e.Interaction.Query + "\n" + e.Interaction.Response
	case e.Pattern != nil:
		return e.Pattern.Name + "\n" + e.Pattern.SolutionTemplate
	case e.Knowledge != nil:
		return e.Knowledge.Content
	}
	return ""
}

// Point is one vector-indexed record. Embedding may be nil for payloads
// imported from a federation snapshot before re-embedding; such points are
// skipped by similarity search.
type Point struct {
	ID        string
	Embedding []float32
	Envelope  Envelope
}

// ScoredPoint is a Point with a similarity score attached.
type ScoredPoint struct {
	Point
	Score float64
}

// CollectionInfo describes a collection's fixed parameters.
type CollectionInfo struct {
	Name      string
	Dim       int // 0 until the first vector is inserted
	Metric    string
	CreatedAt time.Time
}

// Store is the interface for vector storage and similarity search backends.
// The default implementation uses SQLite with brute-force cosine similarity.
// Collections are created lazily with a fixed dimensionality and metric on
// first use; changing dimensionality requires a new collection and a
// migration, never an in-place reinterpretation of stored vectors.
type Store interface {
	// Upsert validates and writes points into the collection, replacing any
	// existing point with the same ID.
	Upsert(collection string, points []Point) error

	// Search performs similarity search, returning the top-K most similar
	// points in score-descending order.
	Search(ctx context.Context, collection string, vec []float32, topK int) ([]ScoredPoint, error)

	// Get returns the point with the given ID, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Point, error)

	// HasID reports whether a point with the given ID exists.
	HasID(collection, id string) (bool, error)

	// ExportPayloads returns every envelope in the collection, vector-free,
	// ordered by timestamp ascending. Used by federation export.
	ExportPayloads(collection string) ([]Envelope, error)

	// Count returns the number of points in the collection.
	Count(collection string) (int, error)

	// Collections lists all known collections.
	Collections() ([]CollectionInfo, error)
}
