package routing

import (
	"testing"

	"github.com/pkorolov/weir/internal/backend"
)

func TestDecide_StrongMatchSimpleQueryStaysLocal(t *testing.T) {
	e := NewEngine(DefaultThresholds(), true)

	d := e.Decide(0.92, 2, ModeAuto)
	if d.Backend != backend.KindLocal {
		t.Fatalf("Decide(0.92, 2) = %s, want local", d.Backend)
	}
	if d.Reason == "" {
		t.Error("decision has no reason")
	}
}

func TestDecide_NoContextComplexQueryGoesRemote(t *testing.T) {
	e := NewEngine(DefaultThresholds(), true)

	d := e.Decide(0, 8, ModeAuto)
	if d.Backend != backend.KindRemote {
		t.Fatalf("Decide(0, 8) = %s, want remote", d.Backend)
	}
}

func TestDecide_ZeroRetrievalNeverServedLocally(t *testing.T) {
	e := NewEngine(DefaultThresholds(), true)

	// A best score of 0 (nothing retrieved) fails every local threshold
	// regardless of complexity.
	for _, complexity := range []int{0, 1, 2, 5, 10} {
		d := e.Decide(0, complexity, ModeAuto)
		if d.Backend != backend.KindRemote {
			t.Errorf("Decide(0, %d) = %s, want remote", complexity, d.Backend)
		}
	}
}

func TestDecide_Totality(t *testing.T) {
	// Every score/complexity combination must resolve to exactly one
	// backend, with and without a remote configured.
	for _, remoteConfigured := range []bool{true, false} {
		e := NewEngine(DefaultThresholds(), remoteConfigured)
		for score := 0.0; score <= 1.0; score += 0.05 {
			for complexity := 0; complexity <= 10; complexity++ {
				d := e.Decide(score, complexity, ModeAuto)
				if d.Backend != backend.KindLocal && d.Backend != backend.KindRemote {
					t.Fatalf("Decide(%.2f, %d) returned invalid backend %q", score, complexity, d.Backend)
				}
				if !remoteConfigured && d.Backend != backend.KindLocal {
					t.Fatalf("Decide(%.2f, %d) = remote with no remote configured", score, complexity)
				}
				if d.Reason == "" {
					t.Fatalf("Decide(%.2f, %d) has empty reason", score, complexity)
				}
			}
		}
	}
}

func TestDecide_Thresholds(t *testing.T) {
	e := NewEngine(DefaultThresholds(), true)

	tests := []struct {
		name       string
		score      float64
		complexity int
		want       backend.Kind
	}{
		{"high score moderate complexity", 0.86, 5, backend.KindLocal},
		{"high score at complexity cutoff", 0.86, 6, backend.KindRemote},
		{"score exactly at high threshold", 0.85, 5, backend.KindRemote},
		{"mid score simple query", 0.81, 3, backend.KindLocal},
		{"mid score at complexity cutoff", 0.81, 4, backend.KindRemote},
		{"low score trivial query", 0.71, 2, backend.KindLocal},
		{"low score at complexity cutoff", 0.71, 3, backend.KindRemote},
		{"below all thresholds", 0.5, 1, backend.KindRemote},
	}
	for _, tt := range tests {
		d := e.Decide(tt.score, tt.complexity, ModeAuto)
		if d.Backend != tt.want {
			t.Errorf("%s: Decide(%.2f, %d) = %s, want %s", tt.name, tt.score, tt.complexity, d.Backend, tt.want)
		}
	}
}

func TestDecide_ModeOverrides(t *testing.T) {
	e := NewEngine(DefaultThresholds(), true)

	if d := e.Decide(0, 10, ModeLocalOnly); d.Backend != backend.KindLocal {
		t.Errorf("local_only: got %s", d.Backend)
	}
	if d := e.Decide(0.99, 1, ModeRemoteOnly); d.Backend != backend.KindRemote {
		t.Errorf("remote_only: got %s", d.Backend)
	}
}

func TestDecide_RemoteOnlyWithoutRemoteFallsBackToLocal(t *testing.T) {
	e := NewEngine(DefaultThresholds(), false)

	d := e.Decide(0.99, 1, ModeRemoteOnly)
	if d.Backend != backend.KindLocal {
		t.Fatalf("remote_only without remote: got %s, want local", d.Backend)
	}
	if d.Reason == "" {
		t.Error("fallback decision has no reason")
	}

	// The fallback reason must differ from a plain local_only decision so
	// the caller can tell misconfiguration from intent.
	local := e.Decide(0.99, 1, ModeLocalOnly)
	if d.Reason == local.Reason {
		t.Errorf("remote_only fallback reason %q identical to local_only reason", d.Reason)
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"", "auto", "local_only", "remote_only"} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParseMode("cloud"); err == nil {
		t.Error("ParseMode(\"cloud\") expected error")
	}
}
