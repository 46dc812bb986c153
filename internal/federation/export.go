package federation

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/pkorolov/weir/internal/vector"
)

// ExportStore is the slice of the vector store the exporter needs.
type ExportStore interface {
	ExportPayloads(collection string) ([]vector.Envelope, error)
}

// ExportResult summarizes one export run.
type ExportResult struct {
	Files    []string `json:"files"`
	Exported int      `json:"exported"`
	Pruned   int      `json:"pruned"`
}

// exportedCollections are the collections eligible for federation. Curated
// knowledge stays local; only scored interactions and derived patterns
// travel between installations.
var exportedCollections = []string{
	vector.CollectionHistory,
	vector.CollectionErrorFixes,
	vector.CollectionPatterns,
}

// Export writes one immutable snapshot per non-empty eligible collection,
// containing only payloads at or above cfg.MinScore, then prunes old
// snapshots beyond the retention count. Existing snapshot files are never
// rewritten; a second export within the same second finds its file names
// taken and skips those collections rather than failing.
func Export(store ExportStore, cfg Config) (ExportResult, error) {
	return exportAt(store, cfg, time.Now().UTC())
}

func exportAt(store ExportStore, cfg Config, now time.Time) (ExportResult, error) {
	cfg = cfg.withDefaults()
	var res ExportResult

	for _, coll := range exportedCollections {
		envelopes, err := store.ExportPayloads(coll)
		if err != nil {
			return res, fmt.Errorf("exporting collection %s: %w", coll, err)
		}

		eligible := filterEligible(coll, envelopes, cfg.MinScore)
		if len(eligible) == 0 {
			continue
		}

		snap := Snapshot{
			FormatVersion: FormatVersion,
			Collection:    coll,
			Origin:        cfg.Origin,
			ExportedAt:    now,
			Payloads:      eligible,
		}
		path, err := writeSnapshot(cfg.ExportDir, snap)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				slog.Warn("federation: snapshot for this second already exists, skipping", "collection", coll)
				continue
			}
			return res, err
		}
		res.Files = append(res.Files, path)
		res.Exported += len(eligible)
		slog.Info("federation: snapshot written", "collection", coll, "payloads", len(eligible), "path", path)
	}

	pruned, err := prune(cfg.ExportDir, cfg.RetentionCount)
	if err != nil {
		return res, err
	}
	res.Pruned = pruned
	return res, nil
}

// filterEligible keeps the payloads worth federating: interactions scored
// at or above the threshold, and the highest version of each pattern whose
// average value score clears it. Knowledge payloads carry no value score
// and are excluded upstream by collection choice.
func filterEligible(collection string, envelopes []vector.Envelope, minScore float64) []vector.Envelope {
	if collection == vector.CollectionPatterns {
		// Highest version per normalized name only; superseded versions are
		// local audit history, not federation material.
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
		var out []vector.Envelope
		for _, env := range envelopes {
			if env.Pattern == nil {
				continue
			}
			if latest[env.Pattern.NormalizedName].ID != env.ID {
				continue
			}
			if env.Pattern.AvgValueScore >= minScore {
				out = append(out, env)
			}
		}
		return out
	}

	var out []vector.Envelope
	for _, env := range envelopes {
		if env.Interaction != nil && env.Interaction.ValueScore >= minScore {
			out = append(out, env)
		}
	}
	return out
}

// prune removes snapshots beyond the newest retain per collection.
func prune(dir string, retain int) (int, error) {
	files, err := listSnapshots(dir)
	if err != nil {
		return 0, err
	}

	// files are newest-first; count per collection and drop the overflow.
	perCollection := make(map[string]int)
	pruned := 0
	for _, f := range files {
		perCollection[f.collection]++
		if perCollection[f.collection] <= retain {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			return pruned, fmt.Errorf("pruning snapshot %s: %w", f.path, err)
		}
		pruned++
		slog.Debug("federation: pruned old snapshot", "path", f.path)
	}
	return pruned, nil
}
