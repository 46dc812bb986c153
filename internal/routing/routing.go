// Package routing decides whether a query is served by the local or the
// remote inference backend, based on retrieval confidence and a cheap
// complexity estimate of the query text.
package routing

import (
	"fmt"

	"github.com/pkorolov/weir/internal/backend"
)

// Mode overrides the scored decision table unconditionally.
type Mode string

const (
	ModeAuto       Mode = "auto"
	ModeLocalOnly  Mode = "local_only"
	ModeRemoteOnly Mode = "remote_only"
)

// Thresholds are the scored decision-table cutoffs. They are tunable
// defaults surfaced through configuration; the shape of the table is fixed.
type Thresholds struct {
	// HighScore/HighComplexity: strong retrieval match on a moderately
	// complex query still stays local.
	HighScore      float64
	HighComplexity int
	// MidScore/MidComplexity: good match, simple query.
	MidScore      float64
	MidComplexity int
	// LowScore/LowComplexity: acceptable match, trivial query.
	LowScore      float64
	LowComplexity int
}

// DefaultThresholds mirror the documented decision table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighScore: 0.85, HighComplexity: 6,
		MidScore: 0.80, MidComplexity: 4,
		LowScore: 0.70, LowComplexity: 3,
	}
}

// Decision is the routing outcome. Exactly one backend kind is chosen, and
// Reason is attached to the interaction record so routing behavior stays
// independently verifiable after the fact.
type Decision struct {
	Backend backend.Kind `json:"backend"`
	Reason  string       `json:"reason"`
}

// Engine applies the decision table.
type Engine struct {
	thresholds       Thresholds
	remoteConfigured bool
}

// NewEngine creates a routing engine. remoteConfigured reports whether a
// remote backend is available at all; when it is not, every decision
// resolves to local.
func NewEngine(t Thresholds, remoteConfigured bool) *Engine {
	return &Engine{thresholds: t, remoteConfigured: remoteConfigured}
}

// Decide returns the backend for a query given the best retrieval score and
// the estimated complexity. mode overrides are unconditional; otherwise the
// scored thresholds apply, falling through to remote.
func (e *Engine) Decide(bestScore float64, complexity int, mode Mode) Decision {
	switch mode {
	case ModeLocalOnly:
		return Decision{Backend: backend.KindLocal, Reason: "mode=local_only"}
	case ModeRemoteOnly:
		if e.remoteConfigured {
			return Decision{Backend: backend.KindRemote, Reason: "mode=remote_only"}
		}
		return Decision{Backend: backend.KindLocal, Reason: "mode=remote_only but no remote backend configured"}
	}

	t := e.thresholds
	switch {
	case bestScore > t.HighScore && complexity < t.HighComplexity:
		return Decision{
			Backend: backend.KindLocal,
			Reason:  fmt.Sprintf("retrieval %.2f > %.2f and complexity %d < %d", bestScore, t.HighScore, complexity, t.HighComplexity),
		}
	case bestScore > t.MidScore && complexity < t.MidComplexity:
		return Decision{
			Backend: backend.KindLocal,
			Reason:  fmt.Sprintf("retrieval %.2f > %.2f and complexity %d < %d", bestScore, t.MidScore, complexity, t.MidComplexity),
		}
	case bestScore > t.LowScore && complexity < t.LowComplexity:
		return Decision{
			Backend: backend.KindLocal,
			Reason:  fmt.Sprintf("retrieval %.2f > %.2f and complexity %d < %d", bestScore, t.LowScore, complexity, t.LowComplexity),
		}
	}

	if !e.remoteConfigured {
		return Decision{Backend: backend.KindLocal, Reason: "no threshold met but no remote backend configured"}
	}
	return Decision{
		Backend: backend.KindRemote,
		Reason:  fmt.Sprintf("no local threshold met (retrieval %.2f, complexity %d)", bestScore, complexity),
	}
}

// ParseMode validates a mode string, defaulting empty to auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeLocalOnly:
		return ModeLocalOnly, nil
	case ModeRemoteOnly:
		return ModeRemoteOnly, nil
	}
	return "", fmt.Errorf("unknown routing mode %q", s)
}
