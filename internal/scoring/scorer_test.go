package scoring

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/pkorolov/weir/internal/vector"
)

type mockHistory struct {
	count    int
	countErr error
	matches  []vector.ScoredPoint
	searchErr error
}

func (m *mockHistory) Search(_ context.Context, _ string, _ []float32, _ int) ([]vector.ScoredPoint, error) {
	return m.matches, m.searchErr
}

func (m *mockHistory) Count(_ string) (int, error) {
	return m.count, m.countErr
}

func TestWeights_Validate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights invalid: %v", err)
	}

	bad := Weights{Complexity: 0.5, Reusability: 0.5, Novelty: 0.5}
	if err := bad.Validate(); err == nil {
		t.Error("weights summing to 1.5 should fail validation")
	}

	negative := Weights{Complexity: -0.2, Reusability: 0.5, Novelty: 0.3, Confirmation: 0.2, Impact: 0.2}
	if err := negative.Validate(); err == nil {
		t.Error("negative weight should fail validation")
	}
}

func TestNewScorer_RejectsInvalidWeights(t *testing.T) {
	if _, err := NewScorer(Weights{Complexity: 1.5}, &mockHistory{}); err == nil {
		t.Fatal("expected error for invalid weights")
	}
}

func TestScore_AlwaysWithinRange(t *testing.T) {
	s, err := NewScorer(DefaultWeights(), &mockHistory{count: 10, matches: []vector.ScoredPoint{{Score: 0.99}}})
	if err != nil {
		t.Fatal(err)
	}

	signals := []Signals{
		{},
		{LinesTouched: 10000, FilesTouched: 100, SolutionSteps: 50, MinutesSpent: 600,
			Scope: ScopeUniversal, FirstSeenGeneric: true, StandardTooling: true,
			Confirmation: ConfirmedExplicit, HasFeedback: true,
			Severity: SeverityCritical, BlockedWork: true, UsersAffected: 1000},
		{Confirmation: ConfirmedFailed, Severity: SeverityTrivial},
	}
	for i, sig := range signals {
		score, b := s.Score(context.Background(), []float32{1, 0}, sig)
		if score < 0 || score > 1 {
			t.Errorf("signals[%d]: score %v out of [0,1]", i, score)
		}
		for name, f := range map[string]float64{
			"complexity": b.Complexity, "reusability": b.Reusability, "novelty": b.Novelty,
			"confirmation": b.Confirmation, "impact": b.Impact,
		} {
			if f < 0 || f > 1 {
				t.Errorf("signals[%d]: factor %s = %v out of [0,1]", i, name, f)
			}
		}
	}
}

func TestScore_NeutralDefaults(t *testing.T) {
	s, _ := NewScorer(DefaultWeights(), &mockHistory{count: 0})

	_, b := s.Score(context.Background(), nil, Signals{Confirmation: Unconfirmed})
	if b.Confirmation != 0.3 {
		t.Errorf("unconfirmed confirmation = %v, want 0.3", b.Confirmation)
	}
	if b.Impact != 0.3 {
		t.Errorf("unset severity impact = %v, want 0.3", b.Impact)
	}
	if b.Complexity != 0 {
		t.Errorf("zero-effort complexity = %v, want 0", b.Complexity)
	}
}

func TestNoveltyScore(t *testing.T) {
	ctx := context.Background()
	vec := []float32{1, 0}

	tests := []struct {
		name    string
		history *mockHistory
		vec     []float32
		want    float64
	}{
		{"empty history", &mockHistory{count: 0}, vec, 1.0},
		{"near duplicate", &mockHistory{count: 5, matches: []vector.ScoredPoint{{Score: 0.96}}}, vec, 0.1},
		{"similar", &mockHistory{count: 5, matches: []vector.ScoredPoint{{Score: 0.88}}}, vec, 0.3},
		{"related", &mockHistory{count: 5, matches: []vector.ScoredPoint{{Score: 0.75}}}, vec, 0.6},
		{"unrelated", &mockHistory{count: 5, matches: []vector.ScoredPoint{{Score: 0.4}}}, vec, 0.9},
		{"no matches", &mockHistory{count: 5}, vec, 0.9},
		{"nil query vector", &mockHistory{count: 5}, nil, 0.9},
		{"search failure degrades", &mockHistory{count: 5, searchErr: fmt.Errorf("boom")}, vec, 0.9},
	}
	for _, tt := range tests {
		s, _ := NewScorer(DefaultWeights(), tt.history)
		if got := s.noveltyScore(ctx, tt.vec); got != tt.want {
			t.Errorf("%s: noveltyScore = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestReusabilityScore(t *testing.T) {
	tests := []struct {
		sig  Signals
		want float64
	}{
		{Signals{Scope: ScopeSingleCase}, 0.2 / 1.5},
		{Signals{Scope: ScopeSimilarCases}, 0.5 / 1.5},
		{Signals{Scope: ScopeCategory}, 0.8 / 1.5},
		{Signals{Scope: ScopeUniversal}, 1.0 / 1.5},
		{Signals{Scope: ScopeUniversal, FirstSeenGeneric: true, StandardTooling: true}, 1.0},
	}
	for _, tt := range tests {
		got := reusabilityScore(tt.sig)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("reusabilityScore(%+v) = %v, want %v", tt.sig, got, tt.want)
		}
	}
}

func TestConfirmationScore_FeedbackBonusCapped(t *testing.T) {
	got := confirmationScore(Signals{Confirmation: ConfirmedExplicit, HasFeedback: true})
	if got != 1.0 {
		t.Errorf("confirmed with feedback = %v, want capped 1.0", got)
	}
	got = confirmationScore(Signals{Confirmation: ConfirmedFailed, HasFeedback: true})
	if math.Abs(got-0.1) > 1e-9 {
		t.Errorf("failed with feedback = %v, want 0.1", got)
	}
}

func TestCombine_MatchesScore(t *testing.T) {
	s, _ := NewScorer(DefaultWeights(), &mockHistory{count: 0})

	score, b := s.Score(context.Background(), nil, Signals{Confirmation: Unconfirmed, Severity: SeverityHigh})
	if got := s.Combine(b); math.Abs(got-score) > 1e-9 {
		t.Fatalf("Combine(breakdown) = %v, want %v", got, score)
	}

	// Updating one factor via the exported helper recomputes the total.
	b.Confirmation = ConfirmationScore(ConfirmedExplicit, false)
	updated := s.Combine(b)
	if updated <= score {
		t.Errorf("score after explicit confirmation %v should exceed original %v", updated, score)
	}
}
