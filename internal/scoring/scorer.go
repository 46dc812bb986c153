// Package scoring computes the 0-1 value score of a completed interaction
// from five weighted factors. The score gates pattern extraction and
// federation export eligibility.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/pkorolov/weir/internal/vector"
)

// ValueThreshold is the single switch that gates pattern extraction and
// federation export. Both consumers reference this constant; it must not
// silently drift.
const ValueThreshold = 0.7

// Weights for the five factors. Any reweighting must preserve sum == 1.
type Weights struct {
	Complexity   float64 `yaml:"complexity"`
	Reusability  float64 `yaml:"reusability"`
	Novelty      float64 `yaml:"novelty"`
	Confirmation float64 `yaml:"confirmation"`
	Impact       float64 `yaml:"impact"`
}

// DefaultWeights returns the documented weight set.
func DefaultWeights() Weights {
	return Weights{
		Complexity:   0.20,
		Reusability:  0.30,
		Novelty:      0.20,
		Confirmation: 0.15,
		Impact:       0.15,
	}
}

// Validate enforces the weight-sum invariant.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"complexity": w.Complexity, "reusability": w.Reusability,
		"novelty": w.Novelty, "confirmation": w.Confirmation, "impact": w.Impact,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s is negative: %v", name, v)
		}
	}
	sum := w.Complexity + w.Reusability + w.Novelty + w.Confirmation + w.Impact
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Breakdown records the five sub-scores alongside the final value score.
type Breakdown struct {
	Complexity   float64 `json:"complexity"`
	Reusability  float64 `json:"reusability"`
	Novelty      float64 `json:"novelty"`
	Confirmation float64 `json:"confirmation"`
	Impact       float64 `json:"impact"`
}

// Scope describes how broadly an interaction's solution applies.
type Scope string

const (
	ScopeSingleCase   Scope = "single_case"
	ScopeSimilarCases Scope = "similar_cases"
	ScopeCategory     Scope = "category"
	ScopeUniversal    Scope = "universal"
)

// Confirmation describes the success signal attached to an interaction.
type Confirmation string

const (
	ConfirmedExplicit Confirmation = "confirmed"    // explicit user success
	ConfirmedImplicit Confirmation = "implicit"     // continued without error
	ConfirmedPartial  Confirmation = "partial"      // partially worked
	Unconfirmed       Confirmation = "unconfirmed"  // no signal supplied
	ConfirmedFailed   Confirmation = "failed"       // explicit failure
)

// Severity describes the impact of the problem the interaction solved.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityTrivial  Severity = "trivial"
)

// Signals are the raw inputs to the scorer. Every field has a documented
// neutral default so a missing signal never blocks persistence of the
// interaction.
type Signals struct {
	// Complexity inputs.
	LinesTouched  int
	FilesTouched  int
	SolutionSteps int
	MinutesSpent  int

	// Reusability inputs.
	Scope            Scope
	FirstSeenGeneric bool // first occurrence of a generic pattern
	StandardTooling  bool // uses only standard, non-bespoke tooling

	// Confirmation inputs.
	Confirmation Confirmation
	HasFeedback  bool // user supplied free-text feedback

	// Impact inputs.
	Severity      Severity
	BlockedWork   bool
	UsersAffected int
}

// HistoryIndex is the slice of the vector store the novelty factor needs.
type HistoryIndex interface {
	Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.ScoredPoint, error)
	Count(collection string) (int, error)
}

// Scorer computes value scores. The novelty factor probes the interaction
// history collection with the query embedding.
type Scorer struct {
	weights Weights
	history HistoryIndex
}

// NewScorer creates a Scorer. Invalid weights are rejected so a
// misconfigured weight set can never produce out-of-range scores.
func NewScorer(w Weights, history HistoryIndex) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w, history: history}, nil
}

// Score computes the weighted value score and its breakdown. queryVec may be
// nil (embedding unavailable), in which case novelty falls back to its
// "no near match" value. The result is always within [0, 1].
func (s *Scorer) Score(ctx context.Context, queryVec []float32, sig Signals) (float64, Breakdown) {
	b := Breakdown{
		Complexity:   complexityScore(sig),
		Reusability:  reusabilityScore(sig),
		Novelty:      s.noveltyScore(ctx, queryVec),
		Confirmation: confirmationScore(sig),
		Impact:       impactScore(sig),
	}

	total := b.Complexity*s.weights.Complexity +
		b.Reusability*s.weights.Reusability +
		b.Novelty*s.weights.Novelty +
		b.Confirmation*s.weights.Confirmation +
		b.Impact*s.weights.Impact

	return clamp01(total), b
}

// Combine recomputes the weighted total from an existing breakdown. Used
// when a late signal (user feedback) updates one factor of an already
// scored interaction.
func (s *Scorer) Combine(b Breakdown) float64 {
	total := b.Complexity*s.weights.Complexity +
		b.Reusability*s.weights.Reusability +
		b.Novelty*s.weights.Novelty +
		b.Confirmation*s.weights.Confirmation +
		b.Impact*s.weights.Impact
	return clamp01(total)
}

// ConfirmationScore exposes the confirmation factor on its own, for
// re-scoring after feedback arrives.
func ConfirmationScore(c Confirmation, hasFeedback bool) float64 {
	return confirmationScore(Signals{Confirmation: c, HasFeedback: hasFeedback})
}

// complexityScore is the mean of four normalized effort signals, each
// clamped to 1.0 before averaging.
func complexityScore(sig Signals) float64 {
	lines := clamp01(float64(sig.LinesTouched) / 100)
	files := clamp01(float64(sig.FilesTouched) / 5)
	steps := clamp01(float64(sig.SolutionSteps) / 10)
	minutes := clamp01(float64(sig.MinutesSpent) / 30)
	return (lines + files + steps + minutes) / 4
}

// reusabilityScore starts from an applicability-scope lookup, adds bonuses
// for first-seen generic patterns and standard tooling, then normalizes by
// the maximum attainable raw value (1.5).
func reusabilityScore(sig Signals) float64 {
	var base float64
	switch sig.Scope {
	case ScopeSimilarCases:
		base = 0.5
	case ScopeCategory:
		base = 0.8
	case ScopeUniversal:
		base = 1.0
	default: // single_case and unset
		base = 0.2
	}
	if sig.FirstSeenGeneric {
		base += 0.3
	}
	if sig.StandardTooling {
		base += 0.2
	}
	return clamp01(base / 1.5)
}

// noveltyScore probes interaction history for the nearest prior query.
// Near-duplicates score low; a previously unseen query scores high; an
// empty history scores 1.0.
func (s *Scorer) noveltyScore(ctx context.Context, queryVec []float32) float64 {
	n, err := s.history.Count(vector.CollectionHistory)
	if err != nil {
		slog.Warn("scoring: history count failed, assuming non-empty", "error", err)
	} else if n == 0 {
		return 1.0
	}

	if len(queryVec) == 0 {
		return 0.9
	}

	matches, err := s.history.Search(ctx, vector.CollectionHistory, queryVec, 1)
	if err != nil {
		slog.Warn("scoring: novelty probe failed, using default", "error", err)
		return 0.9
	}
	if len(matches) == 0 {
		return 0.9
	}

	switch best := matches[0].Score; {
	case best >= 0.95:
		return 0.1
	case best >= 0.85:
		return 0.3
	case best >= 0.70:
		return 0.6
	default:
		return 0.9
	}
}

// confirmationScore maps the success signal, plus a capped bonus when the
// user bothered to leave free-text feedback.
func confirmationScore(sig Signals) float64 {
	var base float64
	switch sig.Confirmation {
	case ConfirmedExplicit:
		base = 1.0
	case ConfirmedImplicit:
		base = 0.8
	case ConfirmedPartial:
		base = 0.5
	case ConfirmedFailed:
		base = 0.0
	default: // unconfirmed is the neutral default
		base = 0.3
	}
	if sig.HasFeedback {
		base += 0.1
	}
	return clamp01(base)
}

// impactScore combines severity, whether the issue blocked work, and a
// capped per-user term.
func impactScore(sig Signals) float64 {
	var base float64
	switch sig.Severity {
	case SeverityCritical:
		base = 1.0
	case SeverityHigh:
		base = 0.8
	case SeverityMedium:
		base = 0.5
	case SeverityLow:
		base = 0.3
	case SeverityTrivial:
		base = 0.1
	default:
		base = 0.3
	}
	if sig.BlockedWork {
		base += 0.2
	}
	base += math.Min(0.3, float64(sig.UsersAffected)/10)
	return clamp01(base)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
