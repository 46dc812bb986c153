// Package federation exports high-value patterns and interactions to
// portable snapshot files and imports snapshots produced by other
// installations. Sync is eventually consistent and conflict-avoidant:
// snapshots are immutable, imports skip ids that already exist locally,
// and nothing is ever merged by overwrite.
package federation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkorolov/weir/internal/scoring"
	"github.com/pkorolov/weir/internal/vector"
)

// FormatVersion identifies the snapshot schema. Readers reject snapshots
// with an unknown version instead of guessing.
const FormatVersion = 1

// snapshotTimeLayout is the compact UTC timestamp embedded in file names.
const snapshotTimeLayout = "20060102T150405Z"

// Snapshot is a point-in-time, vector-free export of one collection's
// payloads. Files are immutable once written; producers only ever append
// new snapshots.
type Snapshot struct {
	FormatVersion int               `json:"format_version"`
	Collection    string            `json:"collection"`
	Origin        string            `json:"origin,omitempty"`
	ExportedAt    time.Time         `json:"exported_at"`
	Payloads      []vector.Envelope `json:"payloads"`
}

// Config is passed explicitly into each export/import invocation; federation
// carries no ambient state between runs.
type Config struct {
	// ExportDir receives this installation's snapshot files.
	ExportDir string `yaml:"export_dir"`
	// SourcePaths are directories holding snapshots produced by other
	// installations, one directory per peer.
	SourcePaths []string `yaml:"source_paths"`
	// RetentionCount keeps only the newest K snapshots per collection.
	RetentionCount int `yaml:"retention_count"`
	// MinScore gates export eligibility; defaults to the scoring threshold.
	MinScore float64 `yaml:"min_score"`
	// Origin names this installation in exported snapshots.
	Origin string `yaml:"origin"`
}

func (c Config) withDefaults() Config {
	if c.RetentionCount <= 0 {
		c.RetentionCount = 5
	}
	if c.MinScore <= 0 {
		c.MinScore = scoring.ValueThreshold
	}
	return c
}

// snapshotFileName builds "<collection>-<timestamp>.json".
func snapshotFileName(collection string, at time.Time) string {
	return fmt.Sprintf("%s-%s.json", collection, at.UTC().Format(snapshotTimeLayout))
}

// parseSnapshotFileName recovers collection and timestamp from a file name.
func parseSnapshotFileName(name string) (collection string, at time.Time, err error) {
	base := strings.TrimSuffix(name, ".json")
	if base == name {
		return "", time.Time{}, fmt.Errorf("not a snapshot file: %s", name)
	}
	idx := strings.LastIndex(base, "-")
	if idx <= 0 {
		return "", time.Time{}, fmt.Errorf("malformed snapshot name: %s", name)
	}
	at, err = time.Parse(snapshotTimeLayout, base[idx+1:])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed snapshot timestamp in %s: %w", name, err)
	}
	return base[:idx], at, nil
}

// writeSnapshot writes the snapshot to dir with O_EXCL semantics so an
// existing file is never rewritten.
func writeSnapshot(dir string, snap Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}

	name := snapshotFileName(snap.Collection, snap.ExportedAt)
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating snapshot %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("writing snapshot %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing snapshot %s: %w", name, err)
	}
	return path, nil
}

// readSnapshot parses and sanity-checks one snapshot file.
func readSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parsing snapshot: %w", err)
	}
	if snap.FormatVersion != FormatVersion {
		return Snapshot{}, fmt.Errorf("unsupported snapshot format version %d", snap.FormatVersion)
	}
	if snap.Collection == "" {
		return Snapshot{}, fmt.Errorf("snapshot missing collection name")
	}
	return snap, nil
}

// snapshotFile is one discovered snapshot on disk.
type snapshotFile struct {
	path       string
	collection string
	at         time.Time
}

// listSnapshots returns the snapshot files in dir, newest first.
func listSnapshots(dir string) ([]snapshotFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing snapshots in %s: %w", dir, err)
	}

	var files []snapshotFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		coll, at, err := parseSnapshotFileName(e.Name())
		if err != nil {
			continue // not a snapshot file
		}
		files = append(files, snapshotFile{
			path:       filepath.Join(dir, e.Name()),
			collection: coll,
			at:         at,
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].at.After(files[j].at)
	})
	return files, nil
}
