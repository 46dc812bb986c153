// Package extract is the batch pattern-extraction job: it clusters
// semantically similar high-value interactions from the telemetry window
// and emits generalized, reusable pattern templates into the patterns
// collection.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pkorolov/weir/internal/scoring"
	"github.com/pkorolov/weir/internal/telemetry"
	"github.com/pkorolov/weir/internal/vector"
)

// Config bounds a single extraction run. It is passed explicitly into each
// invocation rather than read from ambient state.
type Config struct {
	WindowRecords       int           `yaml:"window_records"`
	WindowAge           time.Duration `yaml:"window_age"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	MinClusterSize      int           `yaml:"min_cluster_size"`
	MinMeanScore        float64       `yaml:"min_mean_score"`
	MinTemplateLength   int           `yaml:"min_template_length"`
}

// DefaultConfig returns the documented extraction defaults. MinMeanScore is
// tied to the scoring threshold that also gates federation export.
func DefaultConfig() Config {
	return Config{
		WindowRecords:       500,
		WindowAge:           30 * 24 * time.Hour,
		SimilarityThreshold: 0.85,
		MinClusterSize:      3,
		MinMeanScore:        scoring.ValueThreshold,
		MinTemplateLength:   32,
	}
}

// Embedder re-embeds member queries at extraction time; query embeddings
// are transient and never persisted with telemetry records.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// PatternStore is the slice of the vector store the extractor needs.
type PatternStore interface {
	Upsert(collection string, points []vector.Point) error
	ExportPayloads(collection string) ([]vector.Envelope, error)
}

// TelemetrySource supplies the extraction window.
type TelemetrySource interface {
	Window(maxRecords int, maxAge time.Duration) ([]telemetry.Record, error)
}

// Result summarizes one extraction run.
type Result struct {
	Considered int `json:"considered"`
	Clusters   int `json:"clusters"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
}

// Extractor runs the batch job. It operates on a window read of telemetry
// and never holds any lock shared with the request path.
type Extractor struct {
	cfg      Config
	source   TelemetrySource
	embedder Embedder
	store    PatternStore
}

// NewExtractor wires an Extractor. Zero config fields fall back to defaults.
func NewExtractor(cfg Config, source TelemetrySource, embedder Embedder, store PatternStore) *Extractor {
	def := DefaultConfig()
	if cfg.WindowRecords <= 0 {
		cfg.WindowRecords = def.WindowRecords
	}
	if cfg.WindowAge <= 0 {
		cfg.WindowAge = def.WindowAge
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = def.MinClusterSize
	}
	if cfg.MinMeanScore <= 0 {
		cfg.MinMeanScore = def.MinMeanScore
	}
	if cfg.MinTemplateLength <= 0 {
		cfg.MinTemplateLength = def.MinTemplateLength
	}
	return &Extractor{cfg: cfg, source: source, embedder: embedder, store: store}
}

// Run executes one extraction pass. Re-running over an unchanged window is
// idempotent: clusters resolve to the same normalized pattern names, and an
// existing pattern whose content is unchanged is left alone rather than
// versioned or duplicated.
func (e *Extractor) Run(ctx context.Context) (Result, error) {
	var res Result

	records, err := e.source.Window(e.cfg.WindowRecords, e.cfg.WindowAge)
	if err != nil {
		return res, fmt.Errorf("reading telemetry window: %w", err)
	}

	// Only scored interactions participate; unscored records carry no value
	// signal to cluster on.
	var scored []telemetry.Record
	for _, r := range records {
		if r.ValueScore != nil && r.Query != "" {
			scored = append(scored, r)
		}
	}
	res.Considered = len(scored)
	if len(scored) == 0 {
		return res, nil
	}

	queries := make([]string, len(scored))
	for i, r := range scored {
		queries[i] = r.Query
	}
	embeddings, err := e.embedder.EmbedBatch(ctx, queries)
	if err != nil {
		return res, fmt.Errorf("embedding window queries: %w", err)
	}

	members := make([]member, len(scored))
	for i := range scored {
		members[i] = member{record: scored[i], embedding: embeddings[i]}
	}

	clusters := greedyCluster(members, e.cfg.SimilarityThreshold)
	res.Clusters = len(clusters)

	existing, err := e.loadExistingPatterns()
	if err != nil {
		return res, fmt.Errorf("loading existing patterns: %w", err)
	}

	for _, c := range clusters {
		if len(c.members) < e.cfg.MinClusterSize {
			continue
		}
		if c.meanValueScore() < e.cfg.MinMeanScore {
			continue
		}

		payload := e.buildPattern(c)
		action, err := e.upsertPattern(ctx, payload, existing)
		if err != nil {
			return res, err
		}
		switch action {
		case patternCreated:
			res.Created++
		case patternVersioned:
			res.Updated++
		case patternUnchanged:
			res.Unchanged++
		}
	}

	slog.Info("pattern extraction complete",
		"considered", res.Considered,
		"clusters", res.Clusters,
		"created", res.Created,
		"updated", res.Updated,
	)
	return res, nil
}

// buildPattern derives the pattern payload from a surviving cluster.
func (e *Extractor) buildPattern(c *cluster) vector.PatternPayload {
	queries := make([]string, len(c.members))
	responses := make([]string, len(c.members))
	for i, m := range c.members {
		queries[i] = m.record.Query
		responses[i] = m.record.Response
	}

	keywords := commonKeywords(queries)
	template := deriveTemplate(responses, e.cfg.MinTemplateLength)
	name := patternName(keywords, queries[0])

	return vector.PatternPayload{
		Name:             name,
		NormalizedName:   NormalizeName(name),
		Type:             classifyType(keywords, template),
		TriggerKeywords:  keywords,
		SolutionTemplate: template,
		SourceCount:      len(c.members),
		AvgValueScore:    c.meanValueScore(),
		Version:          1,
	}
}

type patternAction int

const (
	patternCreated patternAction = iota
	patternVersioned
	patternUnchanged
)

// loadExistingPatterns indexes the highest version of each stored pattern
// by normalized name.
func (e *Extractor) loadExistingPatterns() (map[string]vector.Envelope, error) {
	envelopes, err := e.store.ExportPayloads(vector.CollectionPatterns)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]vector.Envelope)
	for _, env := range envelopes {
		if env.Pattern == nil {
			continue
		}
		key := env.Pattern.NormalizedName
		if cur, ok := latest[key]; !ok || env.Pattern.Version > cur.Pattern.Version {
			latest[key] = env
		}
	}
	return latest, nil
}

// scoreEpsilon absorbs float accumulation noise when comparing cluster
// mean scores across runs.
const scoreEpsilon = 1e-9

// upsertPattern dedupes by normalized name: an unknown name creates version
// 1; a known name with changed content creates a new version referencing
// the prior one; unchanged content is a no-op. A shifted mean value score
// counts as changed, since that score gates federation export. Patterns are
// never hard-deleted, so superseded versions remain for audit and rollback.
func (e *Extractor) upsertPattern(ctx context.Context, p vector.PatternPayload, existing map[string]vector.Envelope) (patternAction, error) {
	prior, known := existing[p.NormalizedName]
	if known {
		pp := prior.Pattern
		if pp.SolutionTemplate == p.SolutionTemplate && pp.SourceCount == p.SourceCount &&
			math.Abs(pp.AvgValueScore-p.AvgValueScore) < scoreEpsilon {
			return patternUnchanged, nil
		}
		p.Version = pp.Version + 1
		p.PreviousVersion = prior.ID
	}

	env := vector.Envelope{
		ID:        uuid.New().String(),
		Kind:      vector.KindPattern,
		Timestamp: time.Now().UTC(),
		Category:  p.Type,
		Pattern:   &p,
	}

	emb, err := e.embedder.Embed(ctx, p.Name+"\n"+p.SolutionTemplate)
	if err != nil {
		// A pattern without an embedding is still stored; it just won't be
		// found by similarity search until re-embedded.
		slog.Warn("extract: embedding pattern failed, storing vector-free", "pattern", p.NormalizedName, "error", err)
		emb = nil
	}

	point := vector.Point{ID: env.ID, Embedding: emb, Envelope: env}
	if err := e.store.Upsert(vector.CollectionPatterns, []vector.Point{point}); err != nil {
		return patternCreated, fmt.Errorf("upserting pattern %s: %w", p.NormalizedName, err)
	}

	existing[p.NormalizedName] = env
	if known {
		return patternVersioned, nil
	}
	return patternCreated, nil
}
