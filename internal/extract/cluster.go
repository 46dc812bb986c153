package extract

import (
	"github.com/pkorolov/weir/internal/telemetry"
	"github.com/pkorolov/weir/internal/vector"
)

// member pairs a telemetry record with its (re-embedded) query vector.
type member struct {
	record    telemetry.Record
	embedding []float32
}

// cluster is a group of semantically similar interactions. The first
// member is the seed; later members joined because their query embedding
// was similar enough to the seed's.
type cluster struct {
	members []member
}

func (c *cluster) meanValueScore() float64 {
	if len(c.members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range c.members {
		if m.record.ValueScore != nil {
			sum += *m.record.ValueScore
		}
	}
	return sum / float64(len(c.members))
}

// greedyCluster groups members by pairwise cosine similarity against each
// group's seed. This single-pass grouping is order-dependent: a different
// processing order can produce different clusters. That is a known
// approximation of true clustering, acceptable at this scale.
func greedyCluster(members []member, similarityThreshold float64) []*cluster {
	var clusters []*cluster

	for _, m := range members {
		placed := false
		for _, c := range clusters {
			seed := c.members[0]
			if vector.Cosine(seed.embedding, m.embedding) >= similarityThreshold {
				c.members = append(c.members, m)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, &cluster{members: []member{m}})
		}
	}
	return clusters
}
