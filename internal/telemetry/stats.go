package telemetry

// Stats is the derived aggregate over the telemetry log. It is recomputed
// on demand from a full scan; nothing here is stored.
type Stats struct {
	Total             int            `json:"total"`
	ByBackend         map[string]int `json:"by_backend"`
	ByOutcome         map[string]int `json:"by_outcome"`
	ScoredCount       int            `json:"scored_count"`
	AverageValueScore float64        `json:"average_value_score"`

	// LocalServed requests avoided a remote round trip; the token estimate
	// uses the same 4-chars-per-token heuristic as prompt budgeting.
	LocalServed          int     `json:"local_served"`
	EstimatedTokensSaved int     `json:"estimated_tokens_saved"`
	EstimatedCostSavedUSD float64 `json:"estimated_cost_saved_usd"`
}

// costPerThousandTokens approximates the remote provider's blended rate.
const costPerThousandTokens = 0.01

// ComputeStats aggregates the effective (non-superseded) records.
func ComputeStats(records []Record) Stats {
	effective := Effective(records)

	st := Stats{
		ByBackend: make(map[string]int),
		ByOutcome: make(map[string]int),
	}
	var scoreSum float64
	for _, r := range effective {
		st.Total++
		st.ByBackend[r.Backend]++
		st.ByOutcome[r.Outcome]++

		if r.ValueScore != nil {
			st.ScoredCount++
			scoreSum += *r.ValueScore
		}

		if r.Backend == "local" {
			st.LocalServed++
			st.EstimatedTokensSaved += estimateTokens(r.Query) + estimateTokens(r.Response)
		}
	}
	if st.ScoredCount > 0 {
		st.AverageValueScore = scoreSum / float64(st.ScoredCount)
	}
	st.EstimatedCostSavedUSD = float64(st.EstimatedTokensSaved) / 1000 * costPerThousandTokens
	return st
}

// estimateTokens uses the rough 4 chars per token heuristic.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
