// Package telemetry is the durable, append-only log of every completed
// interaction. Records are immutable once written; corrections append a new
// record referencing the old one. This keeps the log auditable and safe for
// a single writer with concurrent readers.
package telemetry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkorolov/weir/internal/scoring"
)

// ErrNotFound is returned when no record carries the requested ID.
var ErrNotFound = errors.New("record not found")

// ContextRef summarizes one retrieved context match attached to a record.
type ContextRef struct {
	Collection string  `json:"collection"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// Outcome of an interaction.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomePartial     = "partial"
	OutcomeUnconfirmed = "unconfirmed"
)

// Record is one completed query/response cycle. The query embedding is
// transient and never persisted with the record.
type Record struct {
	ID                 string             `json:"id"`
	Timestamp          time.Time          `json:"timestamp"`
	Query              string             `json:"query"`
	Response           string             `json:"response"`
	Backend            string             `json:"backend"` // "local" | "remote"
	RoutingReason      string             `json:"routing_reason,omitempty"`
	Context            []ContextRef       `json:"context,omitempty"`
	BestRetrievalScore float64            `json:"best_retrieval_score"`
	Complexity         int                `json:"complexity"`
	Outcome            string             `json:"outcome"`
	ValueScore         *float64           `json:"value_score,omitempty"` // nil until scored
	ValueBreakdown     *scoring.Breakdown `json:"value_breakdown,omitempty"`
	Category           string             `json:"category,omitempty"`
	Feedback           string             `json:"feedback,omitempty"`
	Supersedes         string             `json:"supersedes,omitempty"` // ID of the record this corrects
}

// Store appends records to a line-delimited JSON file. Writes are
// serialized by a mutex and flushed per record so a crash mid-write can
// never corrupt previously committed lines; reads open the file
// independently and tolerate a truncated final line.
type Store struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// Open creates (or reopens for append) the telemetry log in dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	path := filepath.Join(dataDir, "interactions.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry log: %w", err)
	}
	return &Store{path: path, f: f}, nil
}

// Close closes the append handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Append writes one record and flushes it to disk. The record is validated
// minimally: an ID and timestamp are required so the log stays traceable.
func (s *Store) Append(r Record) error {
	if r.ID == "" {
		return fmt.Errorf("telemetry: record missing id")
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	r.Timestamp = r.Timestamp.UTC()

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling record %s: %w", r.ID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("appending record %s: %w", r.ID, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("syncing record %s: %w", r.ID, err)
	}
	return nil
}

// ReadAll returns every committed record in append order. A corrupt or
// truncated line (crash mid-write) is skipped with a warning rather than
// failing the scan.
func (s *Store) ReadAll() ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening telemetry log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			slog.Warn("telemetry: skipping unreadable line", "line", lineNo, "error", err)
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning telemetry log: %w", err)
	}
	return records, nil
}

// Effective returns the records that have not been superseded by a later
// correction, in append order.
func Effective(records []Record) []Record {
	superseded := make(map[string]bool)
	for _, r := range records {
		if r.Supersedes != "" {
			superseded[r.Supersedes] = true
		}
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if !superseded[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// Window returns the effective records within the extraction window: the
// most recent maxRecords records no older than maxAge. Zero values disable
// the respective bound.
func (s *Store) Window(maxRecords int, maxAge time.Duration) ([]Record, error) {
	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	records := Effective(all)

	if maxAge > 0 {
		cutoff := time.Now().UTC().Add(-maxAge)
		filtered := records[:0]
		for _, r := range records {
			if !r.Timestamp.Before(cutoff) {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	if maxRecords > 0 && len(records) > maxRecords {
		records = records[len(records)-maxRecords:]
	}
	return records, nil
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (Record, error) {
	all, err := s.ReadAll()
	if err != nil {
		return Record{}, err
	}
	// Scan backwards so a correcting record wins over the one it supersedes.
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ID == id {
			return all[i], nil
		}
	}
	return Record{}, fmt.Errorf("telemetry: record %s: %w", id, ErrNotFound)
}
