package vector

import (
	"container/heap"
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity
// search backed by SQLite. At the point counts this subsystem targets a
// full scan is fast enough; an ANN-backed implementation can replace it
// behind the Store interface without changing callers.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the vector database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "weir.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't run yet.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// ensureCollection creates the collection row if absent and enforces the
// dimensionality invariant: dim is fixed on the first vector insert and a
// mismatch afterwards is an error, never a reinterpretation.
func (s *SQLiteStore) ensureCollection(tx *sql.Tx, name string, dim int) error {
	var existing int
	err := tx.QueryRow("SELECT dim FROM collections WHERE name = ?", name).Scan(&existing)
	if err == sql.ErrNoRows {
		_, err = tx.Exec(
			"INSERT INTO collections (name, dim, metric, created_at) VALUES (?, ?, 'cosine', ?)",
			name, dim, time.Now().UTC().Format(time.RFC3339),
		)
		return err
	}
	if err != nil {
		return err
	}

	if dim == 0 || existing == dim {
		return nil
	}
	if existing == 0 {
		_, err = tx.Exec("UPDATE collections SET dim = ? WHERE name = ?", dim, name)
		return err
	}
	return fmt.Errorf("collection %q has dimensionality %d, got vector of %d (create a new collection to change dimensionality)", name, existing, dim)
}

// Upsert validates and writes points, replacing existing points by ID.
func (s *SQLiteStore) Upsert(collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	maxDim := 0
	for _, p := range points {
		if len(p.Embedding) > maxDim {
			maxDim = len(p.Embedding)
		}
	}
	if err := s.ensureCollection(tx, collection, maxDim); err != nil {
		tx.Rollback()
		return fmt.Errorf("ensuring collection %s: %w", collection, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO points (collection, id, kind, category, embedding, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			kind = excluded.kind,
			category = excluded.category,
			embedding = excluded.embedding,
			payload = excluded.payload`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		env := p.Envelope
		if env.ID == "" {
			env.ID = p.ID
		}
		if err := env.Validate(); err != nil {
			tx.Rollback()
			return fmt.Errorf("validating point %s: %w", p.ID, err)
		}
		if maxDim > 0 && len(p.Embedding) > 0 && len(p.Embedding) != maxDim {
			tx.Rollback()
			return fmt.Errorf("point %s: embedding dimensionality %d does not match batch %d", p.ID, len(p.Embedding), maxDim)
		}

		payload, err := json.Marshal(env)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshaling payload for %s: %w", p.ID, err)
		}

		var blob any
		if len(p.Embedding) > 0 {
			blob = encodeFloat32s(p.Embedding)
		}

		ts := env.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := stmt.Exec(collection, p.ID, string(env.Kind), env.Category, blob, string(payload), ts.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting point %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Search.
// Full payloads are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float64
}

// Search performs brute-force cosine similarity search over the collection,
// returning the top-K most similar points. Points without an embedding
// (vector-free federation imports) are skipped.
func (s *SQLiteStore) Search(ctx context.Context, collection string, vec []float32, topK int) ([]ScoredPoint, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryNorm := norm(vec)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM points WHERE collection = ? AND embedding IS NOT NULL`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vec, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full points only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float64, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	args := make([]any, 0, len(topIDs)+1)
	args = append(args, collection)
	for _, id := range topIDs {
		args = append(args, id)
	}
	query := `SELECT id, embedding, payload FROM points
		WHERE collection = ? AND id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K points: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredPoint
	for fullRows.Next() {
		p, err := scanPoint(fullRows)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredPoint{Point: p, Score: scores[p.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full points: %w", err)
	}

	// Sort by score descending (IN query doesn't preserve order).
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoint(r rowScanner) (Point, error) {
	var p Point
	var blob []byte
	var payload string
	if err := r.Scan(&p.ID, &blob, &payload); err != nil {
		return Point{}, fmt.Errorf("scanning point: %w", err)
	}
	if len(blob) > 0 {
		emb, err := decodeFloat32s(blob)
		if err != nil {
			return Point{}, fmt.Errorf("decoding embedding for %s: %w", p.ID, err)
		}
		p.Embedding = emb
	}
	if err := json.Unmarshal([]byte(payload), &p.Envelope); err != nil {
		return Point{}, fmt.Errorf("unmarshaling payload for %s: %w", p.ID, err)
	}
	return p, nil
}

// Get returns the point with the given ID, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Point, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, embedding, payload FROM points WHERE collection = ? AND id = ?`, collection, id)
	p, err := scanPoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Point{}, ErrNotFound
	}
	if err != nil {
		return Point{}, err
	}
	return p, nil
}

// HasID reports whether a point with the given ID exists in the collection.
func (s *SQLiteStore) HasID(collection, id string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM points WHERE collection = ? AND id = ?`, collection, id).Scan(&n)
	return n > 0, err
}

// ExportPayloads returns every envelope in the collection, vector-free,
// ordered by timestamp ascending.
func (s *SQLiteStore) ExportPayloads(collection string) ([]Envelope, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM points WHERE collection = ? ORDER BY created_at ASC`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying payloads: %w", err)
	}
	defer rows.Close()

	var envelopes []Envelope
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning payload: %w", err)
		}
		var env Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return nil, fmt.Errorf("unmarshaling payload: %w", err)
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, rows.Err()
}

// Count returns the number of points in the collection.
func (s *SQLiteStore) Count(collection string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM points WHERE collection = ?", collection).Scan(&count)
	return count, err
}

// Collections lists all known collections.
func (s *SQLiteStore) Collections() ([]CollectionInfo, error) {
	rows, err := s.db.Query("SELECT name, dim, metric, created_at FROM collections ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []CollectionInfo
	for rows.Next() {
		var info CollectionInfo
		var createdAt string
		if err := rows.Scan(&info.Name, &info.Dim, &info.Metric, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		info.CreatedAt = t
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return dot / (aNorm * bNorm)
}

// Cosine computes cosine similarity between two vectors. Used by the
// pattern extractor's clustering pass.
func Cosine(a, b []float32) float64 {
	n := norm(a)
	if n == 0 {
		return 0
	}
	return cosine(a, b, n)
}

// idScoreHeap is a min-heap of idScore ordered by Score.
// Used during the scan phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
