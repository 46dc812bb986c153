// Package api exposes the daemon over HTTP (chi router, bearer auth) and
// over MCP stdio for editor and agent integrations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pkorolov/weir/internal/coordinator"
	"github.com/pkorolov/weir/internal/extract"
	"github.com/pkorolov/weir/internal/federation"
	"github.com/pkorolov/weir/internal/ingest"
	"github.com/pkorolov/weir/internal/retrieval"
	"github.com/pkorolov/weir/internal/routing"
	"github.com/pkorolov/weir/internal/scoring"
	"github.com/pkorolov/weir/internal/telemetry"
	"github.com/pkorolov/weir/internal/vector"
)

const maxRequestBodySize = 10 << 20 // 10MB

// QueryService is the coordinator surface the HTTP layer uses.
type QueryService interface {
	Ask(ctx context.Context, query string, opts coordinator.Options) (coordinator.Answer, error)
	Feedback(ctx context.Context, id string, confirmation scoring.Confirmation, notes string) (telemetry.Record, error)
	Recall(ctx context.Context, query string, limit int) ([]retrieval.Match, error)
	CheckHealth(ctx context.Context) coordinator.Health
}

// TelemetryReader is the telemetry surface the HTTP layer uses.
type TelemetryReader interface {
	ReadAll() ([]telemetry.Record, error)
}

// PatternReader lists stored pattern payloads.
type PatternReader interface {
	ExportPayloads(collection string) ([]vector.Envelope, error)
}

// Deps holds everything the HTTP handlers need. Export and Import are
// closures so the handlers stay ignorant of federation configuration.
type Deps struct {
	Service   QueryService
	Telemetry TelemetryReader
	Patterns  PatternReader
	Ingestor  *ingest.Ingestor
	Export    func() (federation.ExportResult, error)
	Import    func(ctx context.Context) (federation.ImportResult, error)
	Extract   func(ctx context.Context) (extract.Result, error)
	Token     string
}

// NewHandler builds the full router. /health is open; everything else
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/query", handleQuery(deps))
		r.Get("/recall", handleRecall(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/patterns", handleListPatterns(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Post("/interactions/{id}/feedback", handleFeedback(deps))
		r.Post("/ingest", handleIngest(deps))
		r.Post("/sync/export", handleSyncExport(deps))
		r.Post("/sync/import", handleSyncImport(deps))
		r.Post("/extract", handleExtract(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := deps.Service.CheckHealth(r.Context())
		writeJSON(w, map[string]any{
			"status": "ok",
			"local":  h.Local,
			"remote": h.Remote,
		})
	}
}

type queryRequest struct {
	Query       string           `json:"query"`
	Mode        string           `json:"mode"`
	Category    string           `json:"category"`
	Collections []string         `json:"collections"`
	Limit       int              `json:"limit"`
	Signals     *scoring.Signals `json:"signals"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		// An omitted mode stays empty so the daemon default applies; an
		// explicit mode (including "auto") overrides it.
		var mode routing.Mode
		if req.Mode != "" {
			var err error
			mode, err = routing.ParseMode(req.Mode)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}

		answer, err := deps.Service.Ask(r.Context(), req.Query, coordinator.Options{
			Mode:        mode,
			Category:    req.Category,
			Collections: req.Collections,
			Limit:       req.Limit,
			Signals:     req.Signals,
		})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, coordinator.ErrNoBackend) {
				status = http.StatusServiceUnavailable
			}
			httpError(w, status, "api_error", "query failed: %v", err)
			return
		}
		writeJSON(w, answer)
	}
}

func handleRecall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 5, 50)

		matches, err := deps.Service.Recall(r.Context(), query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recall failed: %v", err)
			return
		}
		writeJSON(w, matchResults(matches))
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Telemetry.ReadAll()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading telemetry: %v", err)
			return
		}
		writeJSON(w, telemetry.ComputeStats(records))
	}
}

func handleListPatterns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		envelopes, err := deps.Patterns.ExportPayloads(vector.CollectionPatterns)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing patterns: %v", err)
			return
		}

		type patternResult struct {
			ID string `json:"id"`
			*vector.PatternPayload
		}
		results := make([]patternResult, 0, len(envelopes))
		for _, env := range envelopes {
			if env.Pattern == nil {
				continue
			}
			results = append(results, patternResult{ID: env.ID, PatternPayload: env.Pattern})
		}
		writeJSON(w, results)
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		all, err := deps.Telemetry.ReadAll()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading telemetry: %v", err)
			return
		}
		records := telemetry.Effective(all)
		if len(records) > limit {
			records = records[len(records)-limit:]
		}
		if records == nil {
			records = []telemetry.Record{}
		}
		writeJSON(w, records)
	}
}

type feedbackRequest struct {
	Confirmation string `json:"confirmation"`
	Notes        string `json:"notes"`
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		confirmation, err := parseConfirmation(req.Confirmation)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		rec, err := deps.Service.Feedback(r.Context(), id, confirmation, req.Notes)
		if errors.Is(err, telemetry.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recording feedback: %v", err)
			return
		}
		writeJSON(w, rec)
	}
}

type ingestRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Source  string   `json:"source"`
	Tags    []string `json:"tags"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}

		ids, err := deps.Ingestor.IngestDocument(r.Context(), ingest.Document{
			Title:   req.Title,
			Content: req.Content,
			Source:  req.Source,
			Tags:    req.Tags,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "ingest failed: %v", err)
			return
		}
		writeJSON(w, map[string]any{"ids": ids, "chunks": len(ids)})
	}
}

func handleSyncExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Export()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "export failed: %v", err)
			return
		}
		writeJSON(w, res)
	}
}

func handleSyncImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Import(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "import failed: %v", err)
			return
		}
		writeJSON(w, res)
	}
}

func handleExtract(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Extract(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "extraction failed: %v", err)
			return
		}
		writeJSON(w, res)
	}
}

type matchResult struct {
	Collection string  `json:"collection"`
	ID         string  `json:"id"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

func matchResults(matches []retrieval.Match) []matchResult {
	results := make([]matchResult, len(matches))
	for i, m := range matches {
		results[i] = matchResult{
			Collection: m.Collection,
			ID:         m.ID,
			Score:      m.Score,
			Text:       m.Snippet(500),
		}
	}
	return results
}

func parseConfirmation(s string) (scoring.Confirmation, error) {
	switch scoring.Confirmation(s) {
	case scoring.ConfirmedExplicit, scoring.ConfirmedImplicit,
		scoring.ConfirmedPartial, scoring.ConfirmedFailed, scoring.Unconfirmed:
		return scoring.Confirmation(s), nil
	case "":
		return "", fmt.Errorf("confirmation is required")
	default:
		return "", fmt.Errorf("unknown confirmation %q", s)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
