// Package coordinator implements the per-request path: embed the query,
// retrieve context, route to a backend, execute, score the interaction,
// and record it. The path is stateless and safely concurrent; the only
// shared mutable resource is the telemetry append point.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pkorolov/weir/internal/backend"
	"github.com/pkorolov/weir/internal/embedding"
	"github.com/pkorolov/weir/internal/retrieval"
	"github.com/pkorolov/weir/internal/routing"
	"github.com/pkorolov/weir/internal/scoring"
	"github.com/pkorolov/weir/internal/telemetry"
	"github.com/pkorolov/weir/internal/vector"
)

// ErrNoBackend is returned when neither backend can serve the request.
var ErrNoBackend = errors.New("no backend available")

const (
	defaultExecuteTimeout = 120 * time.Second
	snippetLength         = 200
)

// DefaultCollections are searched when a request doesn't name its own.
var DefaultCollections = []string{
	vector.CollectionErrorFixes,
	vector.CollectionPatterns,
	vector.CollectionBestPractices,
	vector.CollectionHistory,
}

// Options tune a single request. Zero fields fall back to the daemon
// defaults carried by the Coordinator, then to package defaults.
type Options struct {
	Mode           routing.Mode // "" means use the daemon default
	Category       string
	Collections    []string
	Limit          int
	ScoreThreshold float64
	Signals        *scoring.Signals // optional; neutral defaults apply when nil
}

// Answer is the caller-visible result. Metadata always reports which
// backend served the request, whether context was used, and any fallback
// that occurred; degraded responses are surfaced, never silent.
type Answer struct {
	InteractionID      string  `json:"interaction_id"`
	Response           string  `json:"response"`
	Backend            string  `json:"backend"`
	RoutingReason      string  `json:"routing_reason"`
	ContextUsed        int     `json:"context_used"`
	BestRetrievalScore float64 `json:"best_retrieval_score"`
	Complexity         int     `json:"complexity"`
	ValueScore         float64 `json:"value_score"`
	Fallback           string  `json:"fallback,omitempty"`
}

// Health reports backend reachability.
type Health struct {
	Local  bool `json:"local"`
	Remote bool `json:"remote"`
}

// Coordinator wires the request path together.
type Coordinator struct {
	embedder  *embedding.Client
	retriever *retrieval.Retriever
	router    *routing.Engine
	local     backend.Backend
	remote    backend.Backend // nil when no remote is configured
	scorer    *scoring.Scorer
	log       *telemetry.Store
	vectors   vector.Store

	executeTimeout   time.Duration
	maxContextTokens int

	defaultMode           routing.Mode
	defaultLimit          int
	defaultScoreThreshold float64
}

// Deps collects the coordinator's collaborators.
type Deps struct {
	Embedder  *embedding.Client
	Retriever *retrieval.Retriever
	Router    *routing.Engine
	Local     backend.Backend
	Remote    backend.Backend
	Scorer    *scoring.Scorer
	Telemetry *telemetry.Store
	Vectors   vector.Store

	ExecuteTimeout   time.Duration
	MaxContextTokens int

	// Daemon-wide defaults applied when a request leaves the corresponding
	// Options field unset. Zero values fall through to package defaults.
	DefaultMode           routing.Mode
	DefaultLimit          int
	DefaultScoreThreshold float64
}

// New creates a Coordinator. ExecuteTimeout bounds backend execution
// independently of retrieval; <= 0 selects the default.
func New(d Deps) *Coordinator {
	if d.ExecuteTimeout <= 0 {
		d.ExecuteTimeout = defaultExecuteTimeout
	}
	return &Coordinator{
		embedder:         d.Embedder,
		retriever:        d.Retriever,
		router:           d.Router,
		local:            d.Local,
		remote:           d.Remote,
		scorer:           d.Scorer,
		log:              d.Telemetry,
		vectors:          d.Vectors,
		executeTimeout:   d.ExecuteTimeout,
		maxContextTokens: d.MaxContextTokens,

		defaultMode:           d.DefaultMode,
		defaultLimit:          d.DefaultLimit,
		defaultScoreThreshold: d.DefaultScoreThreshold,
	}
}

// Ask runs one query through the full path. Cancellation before execution
// completes discards all partial work; a half-formed interaction is never
// written to telemetry.
func (c *Coordinator) Ask(ctx context.Context, query string, opts Options) (Answer, error) {
	if query == "" {
		return Answer{}, fmt.Errorf("empty query")
	}

	complexity := routing.EstimateComplexity(query)
	var fallback string

	// Embed. An unreachable embedding service degrades to no retrieval
	// rather than failing the request.
	queryVec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return Answer{}, ctx.Err()
		}
		slog.Warn("coordinator: embedding failed, skipping retrieval", "error", err)
		fallback = "embedding unavailable, no context retrieved"
		queryVec = nil
	}

	// Retrieve. Never fails; per-collection failures degrade to empty.
	collections := opts.Collections
	if len(collections) == 0 {
		collections = DefaultCollections
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = c.defaultLimit
	}
	threshold := opts.ScoreThreshold
	if threshold <= 0 {
		threshold = c.defaultScoreThreshold
	}
	matches := c.retriever.Retrieve(ctx, queryVec, collections, limit, threshold)
	bestScore := retrieval.BestScore(matches)

	// Route. A request-level mode wins over the daemon default.
	mode := opts.Mode
	if mode == "" {
		mode = c.defaultMode
	}
	decision := c.router.Decide(bestScore, complexity, mode)

	// Execute with the backend's own timeout and a one-shot fallback to the
	// other backend when the chosen one fails.
	prompt := buildPrompt(query, matches, c.maxContextTokens)
	response, served, execFallback, err := c.execute(ctx, prompt, decision.Backend)
	if err != nil {
		return Answer{}, err
	}
	if execFallback != "" {
		if fallback != "" {
			fallback += "; "
		}
		fallback += execFallback
	}

	// The request is complete; don't let a caller disconnect between
	// execution and persistence drop the record.
	if ctx.Err() != nil {
		return Answer{}, ctx.Err()
	}

	// Score. Missing signals fall back to documented neutral defaults and
	// never block persistence.
	sig := scoring.Signals{Confirmation: scoring.Unconfirmed}
	if opts.Signals != nil {
		sig = *opts.Signals
	}
	score, breakdown := c.scorer.Score(ctx, queryVec, sig)

	rec := telemetry.Record{
		ID:                 uuid.New().String(),
		Timestamp:          time.Now().UTC(),
		Query:              query,
		Response:           response,
		Backend:            string(served),
		RoutingReason:      decision.Reason,
		Context:            contextRefs(matches),
		BestRetrievalScore: bestScore,
		Complexity:         complexity,
		Outcome:            telemetry.OutcomeUnconfirmed,
		ValueScore:         &score,
		ValueBreakdown:     &breakdown,
		Category:           opts.Category,
	}
	if err := c.log.Append(rec); err != nil {
		return Answer{}, fmt.Errorf("recording interaction: %w", err)
	}

	// Index the interaction for future retrieval and novelty probes. The
	// record in telemetry is the durable source of truth; failing to index
	// is a degradation, not an error.
	c.indexInteraction(rec, queryVec, score)

	return Answer{
		InteractionID:      rec.ID,
		Response:           response,
		Backend:            string(served),
		RoutingReason:      decision.Reason,
		ContextUsed:        len(matches),
		BestRetrievalScore: bestScore,
		Complexity:         complexity,
		ValueScore:         score,
		Fallback:           fallback,
	}, nil
}

// execute dispatches the prompt to the decided backend, falling back once
// to the other backend if the first fails and the other is healthy.
// Execution runs on its own timeout so a slow remote backend cannot starve
// local-path requests beyond its slot.
func (c *Coordinator) execute(ctx context.Context, prompt string, kind backend.Kind) (string, backend.Kind, string, error) {
	primary, secondary := c.local, c.remote
	if kind == backend.KindRemote {
		primary, secondary = c.remote, c.local
	}

	if primary != nil {
		execCtx, cancel := context.WithTimeout(ctx, c.executeTimeout)
		response, err := primary.Complete(execCtx, prompt, backend.Params{})
		cancel()
		if err == nil {
			return response, primary.Kind(), "", nil
		}
		if ctx.Err() != nil {
			return "", "", "", ctx.Err()
		}
		slog.Warn("coordinator: backend failed", "backend", primary.Kind(), "error", err)
	}

	if secondary != nil && secondary.Healthy(ctx) {
		execCtx, cancel := context.WithTimeout(ctx, c.executeTimeout)
		response, err := secondary.Complete(execCtx, prompt, backend.Params{})
		cancel()
		if err == nil {
			note := fmt.Sprintf("%s backend unavailable, served by %s", kindLabel(kind), secondary.Kind())
			return response, secondary.Kind(), note, nil
		}
		if ctx.Err() != nil {
			return "", "", "", ctx.Err()
		}
		slog.Warn("coordinator: fallback backend failed", "backend", secondary.Kind(), "error", err)
	}

	return "", "", "", ErrNoBackend
}

func kindLabel(k backend.Kind) string {
	if k == "" {
		return "chosen"
	}
	return string(k)
}

// indexInteraction upserts the completed interaction into the history
// collection (and error-fixes when categorized as such).
func (c *Coordinator) indexInteraction(rec telemetry.Record, queryVec []float32, score float64) {
	env := vector.Envelope{
		ID:        rec.ID,
		Kind:      vector.KindInteraction,
		Timestamp: rec.Timestamp,
		Category:  rec.Category,
		Interaction: &vector.InteractionPayload{
			Query:      rec.Query,
			Response:   rec.Response,
			Backend:    rec.Backend,
			Outcome:    rec.Outcome,
			ValueScore: score,
		},
	}
	point := vector.Point{ID: rec.ID, Embedding: queryVec, Envelope: env}

	if err := c.vectors.Upsert(vector.CollectionHistory, []vector.Point{point}); err != nil {
		slog.Warn("coordinator: indexing interaction failed", "id", rec.ID, "error", err)
		return
	}
	if rec.Category == "error-fix" {
		if err := c.vectors.Upsert(vector.CollectionErrorFixes, []vector.Point{point}); err != nil {
			slog.Warn("coordinator: indexing error-fix failed", "id", rec.ID, "error", err)
		}
	}
}

// Feedback appends a correction record for an existing interaction with an
// updated confirmation signal and re-derived value score. The original
// record is never edited in place.
func (c *Coordinator) Feedback(ctx context.Context, interactionID string, confirmation scoring.Confirmation, notes string) (telemetry.Record, error) {
	prior, err := c.log.Get(interactionID)
	if err != nil {
		return telemetry.Record{}, err
	}

	breakdown := scoring.Breakdown{}
	if prior.ValueBreakdown != nil {
		breakdown = *prior.ValueBreakdown
	}
	breakdown.Confirmation = scoring.ConfirmationScore(confirmation, notes != "")
	score := c.scorer.Combine(breakdown)

	rec := prior
	rec.ID = uuid.New().String()
	rec.Timestamp = time.Now().UTC()
	rec.Supersedes = prior.ID
	rec.Outcome = outcomeFor(confirmation)
	rec.Feedback = notes
	rec.ValueScore = &score
	rec.ValueBreakdown = &breakdown

	if err := c.log.Append(rec); err != nil {
		return telemetry.Record{}, fmt.Errorf("recording feedback: %w", err)
	}

	// Refresh the indexed copy so extraction and federation see the
	// corrected score. Embedding is carried over by re-embedding the query;
	// failure leaves the old point in place.
	if vec, err := c.embedder.Embed(ctx, rec.Query); err == nil {
		c.indexInteraction(rec, vec, score)
	}
	return rec, nil
}

func outcomeFor(confirmation scoring.Confirmation) string {
	switch confirmation {
	case scoring.ConfirmedExplicit, scoring.ConfirmedImplicit:
		return telemetry.OutcomeSuccess
	case scoring.ConfirmedPartial:
		return telemetry.OutcomePartial
	case scoring.ConfirmedFailed:
		return telemetry.OutcomeFailure
	default:
		return telemetry.OutcomeUnconfirmed
	}
}

// Recall embeds the query and searches the default collections without
// executing a backend. Used by the recall surfaces (MCP, CLI).
func (c *Coordinator) Recall(ctx context.Context, query string, limit int) ([]retrieval.Match, error) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return c.retriever.Retrieve(ctx, vec, DefaultCollections, limit, 0), nil
}

// CheckHealth probes both backends.
func (c *Coordinator) CheckHealth(ctx context.Context) Health {
	h := Health{}
	if c.local != nil {
		h.Local = c.local.Healthy(ctx)
	}
	if c.remote != nil {
		h.Remote = c.remote.Healthy(ctx)
	}
	return h
}
