package federation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkorolov/weir/internal/vector"
)

func interactionEnv(id string, score float64) vector.Envelope {
	return vector.Envelope{
		ID:   id,
		Kind: vector.KindInteraction,
		Interaction: &vector.InteractionPayload{
			Query: "q " + id, Response: "r " + id, Backend: "local", ValueScore: score,
		},
	}
}

func patternEnv(id, normalized string, version int, avgScore float64) vector.Envelope {
	return vector.Envelope{
		ID:   id,
		Kind: vector.KindPattern,
		Pattern: &vector.PatternPayload{
			Name: normalized, NormalizedName: normalized,
			SolutionTemplate: "template for " + normalized,
			Version:          version, AvgValueScore: avgScore, SourceCount: 3,
		},
	}
}

type mockExportStore struct {
	payloads map[string][]vector.Envelope
}

func (m *mockExportStore) ExportPayloads(collection string) ([]vector.Envelope, error) {
	return m.payloads[collection], nil
}

type mockImportStore struct {
	points map[string]map[string]vector.Point
}

func newMockImportStore() *mockImportStore {
	return &mockImportStore{points: make(map[string]map[string]vector.Point)}
}

func (m *mockImportStore) HasID(collection, id string) (bool, error) {
	_, ok := m.points[collection][id]
	return ok, nil
}

func (m *mockImportStore) Upsert(collection string, points []vector.Point) error {
	if m.points[collection] == nil {
		m.points[collection] = make(map[string]vector.Point)
	}
	for _, p := range points {
		m.points[collection][p.ID] = p
	}
	return nil
}

func TestSnapshotFileName_RoundTrip(t *testing.T) {
	at := time.Date(2026, 4, 15, 10, 30, 0, 0, time.UTC)
	name := snapshotFileName("error-fixes", at)
	if name != "error-fixes-20260415T103000Z.json" {
		t.Fatalf("snapshotFileName = %q", name)
	}

	coll, parsed, err := parseSnapshotFileName(name)
	if err != nil {
		t.Fatal(err)
	}
	if coll != "error-fixes" || !parsed.Equal(at) {
		t.Errorf("parsed %q, %v", coll, parsed)
	}

	for _, bad := range []string{"notes.txt", "no-timestamp.json", "-20260415T103000Z.json"} {
		if _, _, err := parseSnapshotFileName(bad); err == nil {
			t.Errorf("parseSnapshotFileName(%q) should fail", bad)
		}
	}
}

func TestWriteSnapshot_NeverRewrites(t *testing.T) {
	dir := t.TempDir()
	snap := Snapshot{
		FormatVersion: FormatVersion,
		Collection:    "patterns",
		ExportedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, err := writeSnapshot(dir, snap); err != nil {
		t.Fatal(err)
	}
	if _, err := writeSnapshot(dir, snap); err == nil {
		t.Fatal("rewriting an existing snapshot should fail")
	}
}

func TestExport_FiltersByScore(t *testing.T) {
	store := &mockExportStore{payloads: map[string][]vector.Envelope{
		vector.CollectionHistory: {
			interactionEnv("high", 0.9),
			interactionEnv("low", 0.5),
			interactionEnv("edge", 0.7),
		},
	}}
	dir := t.TempDir()

	res, err := Export(store, Config{ExportDir: dir, Origin: "host-a"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Exported != 2 {
		t.Fatalf("Exported = %d, want 2 (at or above threshold)", res.Exported)
	}
	if len(res.Files) != 1 {
		t.Fatalf("Files = %v", res.Files)
	}

	snap, err := readSnapshot(res.Files[0])
	if err != nil {
		t.Fatal(err)
	}
	if snap.Origin != "host-a" || snap.Collection != vector.CollectionHistory {
		t.Errorf("snapshot header: %+v", snap)
	}
	ids := map[string]bool{}
	for _, env := range snap.Payloads {
		ids[env.ID] = true
	}
	if !ids["high"] || !ids["edge"] || ids["low"] {
		t.Errorf("wrong payload set: %v", ids)
	}
}

func TestExport_PatternsHighestVersionOnly(t *testing.T) {
	store := &mockExportStore{payloads: map[string][]vector.Envelope{
		vector.CollectionPatterns: {
			patternEnv("v1", "docker-fix", 1, 0.8),
			patternEnv("v2", "docker-fix", 2, 0.8),
			patternEnv("weak", "weak-pattern", 1, 0.4),
		},
	}}
	dir := t.TempDir()

	res, err := Export(store, Config{ExportDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if res.Exported != 1 {
		t.Fatalf("Exported = %d, want 1", res.Exported)
	}
	snap, _ := readSnapshot(res.Files[0])
	if len(snap.Payloads) != 1 || snap.Payloads[0].ID != "v2" {
		t.Errorf("payloads = %+v, want only v2", snap.Payloads)
	}
}

func TestExport_SameSecondRerunSkipsInsteadOfFailing(t *testing.T) {
	store := &mockExportStore{payloads: map[string][]vector.Envelope{
		vector.CollectionHistory: {interactionEnv("high", 0.9)},
	}}
	dir := t.TempDir()
	now := time.Date(2026, 4, 15, 10, 30, 0, 0, time.UTC)

	first, err := exportAt(store, Config{ExportDir: dir}, now)
	if err != nil {
		t.Fatal(err)
	}
	if first.Exported != 1 || len(first.Files) != 1 {
		t.Fatalf("first run = %+v", first)
	}

	// The second run collides on every file name; it skips those
	// collections rather than aborting the export.
	second, err := exportAt(store, Config{ExportDir: dir}, now)
	if err != nil {
		t.Fatalf("same-second rerun: %v", err)
	}
	if second.Exported != 0 || len(second.Files) != 0 {
		t.Errorf("second run = %+v, want nothing written", second)
	}

	files, err := listSnapshots(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("dir holds %d snapshots, want the original 1", len(files))
	}
}

func TestExport_EmptyCollectionsWriteNothing(t *testing.T) {
	dir := t.TempDir()
	res, err := Export(&mockExportStore{}, Config{ExportDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 0 {
		t.Errorf("Files = %v, want none", res.Files)
	}
}

func TestPrune_KeepsNewestPerCollection(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		snap := Snapshot{FormatVersion: FormatVersion, Collection: "patterns", ExportedAt: base.Add(time.Duration(i) * time.Hour)}
		if _, err := writeSnapshot(dir, snap); err != nil {
			t.Fatal(err)
		}
	}
	// A second collection's lone snapshot must not count against patterns.
	if _, err := writeSnapshot(dir, Snapshot{FormatVersion: FormatVersion, Collection: "error-fixes", ExportedAt: base}); err != nil {
		t.Fatal(err)
	}

	pruned, err := prune(dir, 2)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 2 {
		t.Fatalf("pruned = %d, want 2", pruned)
	}

	files, _ := listSnapshots(dir)
	remaining := map[string]int{}
	for _, f := range files {
		remaining[f.collection]++
	}
	if remaining["patterns"] != 2 || remaining["error-fixes"] != 1 {
		t.Errorf("remaining = %v", remaining)
	}
	// The two newest pattern snapshots survive.
	for _, f := range files {
		if f.collection == "patterns" && f.at.Before(base.Add(2*time.Hour)) {
			t.Errorf("old snapshot %s survived prune", f.path)
		}
	}
}

func TestImport_SkipsExistingIDs(t *testing.T) {
	dir := t.TempDir()
	snap := Snapshot{
		FormatVersion: FormatVersion,
		Collection:    vector.CollectionPatterns,
		ExportedAt:    time.Now().UTC(),
		Payloads:      []vector.Envelope{patternEnv("p1", "fix-a", 1, 0.9), patternEnv("p2", "fix-b", 1, 0.9)},
	}
	if _, err := writeSnapshot(dir, snap); err != nil {
		t.Fatal(err)
	}

	store := newMockImportStore()
	cfg := Config{SourcePaths: []string{dir}}

	res, err := Import(context.Background(), store, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 2 || res.Skipped != 0 {
		t.Fatalf("first import = %+v", res)
	}

	// Re-importing the same snapshot is a no-op: every id already exists.
	res, err = Import(context.Background(), store, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 0 || res.Skipped != 2 {
		t.Errorf("second import = %+v, want all skipped", res)
	}
	if len(store.points[vector.CollectionPatterns]) != 2 {
		t.Errorf("store has %d points, want 2", len(store.points[vector.CollectionPatterns]))
	}
}

func TestImport_UnionAcrossPeers(t *testing.T) {
	peerA, peerB := t.TempDir(), t.TempDir()
	now := time.Now().UTC()

	writeSnapshot(peerA, Snapshot{
		FormatVersion: FormatVersion, Collection: vector.CollectionPatterns, ExportedAt: now,
		Payloads: []vector.Envelope{patternEnv("a1", "fix-a", 1, 0.9), patternEnv("shared", "fix-s", 1, 0.9)},
	})
	writeSnapshot(peerB, Snapshot{
		FormatVersion: FormatVersion, Collection: vector.CollectionPatterns, ExportedAt: now,
		Payloads: []vector.Envelope{patternEnv("b1", "fix-b", 1, 0.9), patternEnv("shared", "fix-s", 1, 0.9)},
	})

	store := newMockImportStore()
	res, err := Import(context.Background(), store, nil, Config{SourcePaths: []string{peerA, peerB}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 3 || res.Skipped != 1 {
		t.Errorf("result = %+v, want imported 3, skipped 1", res)
	}
	for _, id := range []string{"a1", "b1", "shared"} {
		if _, ok := store.points[vector.CollectionPatterns][id]; !ok {
			t.Errorf("id %s missing after union import", id)
		}
	}
}

func TestImport_NewestSnapshotPerSourceWins(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	writeSnapshot(dir, Snapshot{
		FormatVersion: FormatVersion, Collection: vector.CollectionPatterns, ExportedAt: base,
		Payloads: []vector.Envelope{patternEnv("stale", "old", 1, 0.9)},
	})
	writeSnapshot(dir, Snapshot{
		FormatVersion: FormatVersion, Collection: vector.CollectionPatterns, ExportedAt: base.Add(time.Hour),
		Payloads: []vector.Envelope{patternEnv("fresh", "new", 1, 0.9)},
	})

	store := newMockImportStore()
	res, err := Import(context.Background(), store, nil, Config{SourcePaths: []string{dir}})
	if err != nil {
		t.Fatal(err)
	}
	if res.SnapshotsRead != 1 || res.Imported != 1 {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := store.points[vector.CollectionPatterns]["fresh"]; !ok {
		t.Error("newest snapshot's payload not imported")
	}
	if _, ok := store.points[vector.CollectionPatterns]["stale"]; ok {
		t.Error("stale snapshot's payload imported")
	}
}

func TestImport_MalformedSnapshotSkipped(t *testing.T) {
	dir := t.TempDir()
	name := snapshotFileName(vector.CollectionPatterns, time.Now().UTC())
	if err := os.WriteFile(filepath.Join(dir, name), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newMockImportStore()
	res, err := Import(context.Background(), store, nil, Config{SourcePaths: []string{dir}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Malformed != 1 || res.Imported != 0 {
		t.Errorf("result = %+v, want malformed 1", res)
	}
}

func TestImport_InvalidPayloadSkipped(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(dir, Snapshot{
		FormatVersion: FormatVersion, Collection: vector.CollectionPatterns, ExportedAt: time.Now().UTC(),
		Payloads: []vector.Envelope{
			{ID: "bad", Kind: vector.KindPattern}, // no payload variant
			patternEnv("good", "fix-a", 1, 0.9),
		},
	})

	store := newMockImportStore()
	res, err := Import(context.Background(), store, nil, Config{SourcePaths: []string{dir}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want imported 1, skipped 1", res)
	}
}

func TestImport_NilEmbedderStoresVectorFree(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(dir, Snapshot{
		FormatVersion: FormatVersion, Collection: vector.CollectionPatterns, ExportedAt: time.Now().UTC(),
		Payloads: []vector.Envelope{patternEnv("p1", "fix-a", 1, 0.9)},
	})

	store := newMockImportStore()
	if _, err := Import(context.Background(), store, nil, Config{SourcePaths: []string{dir}}); err != nil {
		t.Fatal(err)
	}
	p := store.points[vector.CollectionPatterns]["p1"]
	if p.Embedding != nil {
		t.Errorf("embedding = %v, want nil", p.Embedding)
	}
}

func TestReadSnapshot_RejectsUnknownFormatVersion(t *testing.T) {
	dir := t.TempDir()
	snap := Snapshot{FormatVersion: 99, Collection: "patterns", ExportedAt: time.Now().UTC()}
	path, err := writeSnapshot(dir, snap)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := readSnapshot(path); err == nil {
		t.Fatal("expected error for unknown format version")
	}
}
