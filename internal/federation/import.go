package federation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkorolov/weir/internal/vector"
)

// ImportStore is the slice of the vector store the importer needs.
type ImportStore interface {
	HasID(collection, id string) (bool, error)
	Upsert(collection string, points []vector.Point) error
}

// Embedder optionally re-embeds imported payloads so they become
// searchable. A nil embedder (or a failed embed) stores the payload
// vector-free; similarity search skips it until re-embedded.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ImportResult summarizes one import run.
type ImportResult struct {
	SnapshotsRead int `json:"snapshots_read"`
	Malformed     int `json:"malformed"`
	Imported      int `json:"imported"`
	Skipped       int `json:"skipped"`
}

// Import reads the newest snapshot per collection from each configured
// source path and upserts its payloads keyed by their stable ids.
//
// Idempotence and conflict rules:
//   - a payload whose id already exists locally is skipped, never
//     overwritten; local edits win over federated copies;
//   - two installations that independently produced same-named patterns
//     with different ids are both retained; no automatic merge;
//   - a malformed snapshot is skipped with a warning and the run continues.
func Import(ctx context.Context, store ImportStore, embedder Embedder, cfg Config) (ImportResult, error) {
	cfg = cfg.withDefaults()
	var res ImportResult

	for _, src := range cfg.SourcePaths {
		files, err := listSnapshots(src)
		if err != nil {
			slog.Warn("federation: listing source failed, skipping", "source", src, "error", err)
			continue
		}

		// files are newest-first; take the first (newest) per collection
		// within this source. Each source directory belongs to one peer
		// installation, so older snapshots from the same peer are strictly
		// stale.
		seen := make(map[string]bool)
		for _, f := range files {
			if seen[f.collection] {
				continue
			}
			seen[f.collection] = true

			snap, err := readSnapshot(f.path)
			if err != nil {
				slog.Warn("federation: skipping malformed snapshot", "path", f.path, "error", err)
				res.Malformed++
				continue
			}
			res.SnapshotsRead++

			imported, skipped, err := importSnapshot(ctx, store, embedder, snap)
			if err != nil {
				return res, fmt.Errorf("importing %s: %w", f.path, err)
			}
			res.Imported += imported
			res.Skipped += skipped
		}
	}

	slog.Info("federation import complete",
		"snapshots", res.SnapshotsRead,
		"imported", res.Imported,
		"skipped", res.Skipped,
		"malformed", res.Malformed,
	)
	return res, nil
}

func importSnapshot(ctx context.Context, store ImportStore, embedder Embedder, snap Snapshot) (imported, skipped int, err error) {
	for _, env := range snap.Payloads {
		if err := env.Validate(); err != nil {
			slog.Warn("federation: skipping invalid payload", "collection", snap.Collection, "error", err)
			skipped++
			continue
		}

		exists, err := store.HasID(snap.Collection, env.ID)
		if err != nil {
			return imported, skipped, fmt.Errorf("checking id %s: %w", env.ID, err)
		}
		if exists {
			skipped++
			continue
		}

		var emb []float32
		if embedder != nil {
			emb, err = embedder.Embed(ctx, env.Text())
			if err != nil {
				slog.Warn("federation: embedding imported payload failed, storing vector-free",
					"id", env.ID, "error", err)
				emb = nil
			}
		}

		point := vector.Point{ID: env.ID, Embedding: emb, Envelope: env}
		if err := store.Upsert(snap.Collection, []vector.Point{point}); err != nil {
			return imported, skipped, fmt.Errorf("upserting %s: %w", env.ID, err)
		}
		imported++
	}
	return imported, skipped, nil
}
