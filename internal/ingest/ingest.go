// Package ingest loads curated knowledge (notes, docs, PDFs) into the
// best-practices collection so retrieval can surface it alongside learned
// interaction history.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/pkorolov/weir/internal/vector"
)

// maxChunkChars bounds each stored chunk so a single snippet fits a
// prompt's context budget.
const maxChunkChars = 2000

// Document is one piece of knowledge to ingest.
type Document struct {
	Title   string
	Content string
	Source  string
	Tags    []string
}

// ContentEmbedder generates embeddings for text.
type ContentEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// KnowledgeStore is the slice of the vector store the ingestor needs.
type KnowledgeStore interface {
	Upsert(collection string, points []vector.Point) error
}

// Ingestor chunks, embeds, and stores documents.
type Ingestor struct {
	embedder ContentEmbedder
	store    KnowledgeStore
}

// NewIngestor creates an Ingestor with the given dependencies.
func NewIngestor(embedder ContentEmbedder, store KnowledgeStore) *Ingestor {
	return &Ingestor{embedder: embedder, store: store}
}

// IngestDocument chunks the document, embeds each chunk, and upserts the
// chunks into the best-practices collection. Returns the stored point IDs.
func (in *Ingestor) IngestDocument(ctx context.Context, doc Document) ([]string, error) {
	content := strings.TrimSpace(doc.Content)
	if content == "" {
		return nil, fmt.Errorf("ingest: empty document")
	}
	if doc.Title == "" {
		doc.Title = firstLine(content)
	}

	chunks := splitChunks(content, maxChunkChars)
	embeddings, err := in.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embedding document %q: %w", doc.Title, err)
	}

	now := time.Now().UTC()
	points := make([]vector.Point, len(chunks))
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		id := uuid.New().String()
		title := doc.Title
		if len(chunks) > 1 {
			title = fmt.Sprintf("%s (part %d/%d)", doc.Title, i+1, len(chunks))
		}
		points[i] = vector.Point{
			ID:        id,
			Embedding: embeddings[i],
			Envelope: vector.Envelope{
				ID:        id,
				Kind:      vector.KindKnowledge,
				Timestamp: now,
				Knowledge: &vector.KnowledgePayload{
					Title:   title,
					Content: chunk,
					Source:  doc.Source,
					Tags:    doc.Tags,
				},
			},
		}
		ids[i] = id
	}

	if err := in.store.Upsert(vector.CollectionBestPractices, points); err != nil {
		return nil, fmt.Errorf("storing document %q: %w", doc.Title, err)
	}
	slog.Info("ingested document", "title", doc.Title, "chunks", len(chunks), "source", doc.Source)
	return ids, nil
}

// IngestFile reads a file from disk and ingests it. PDF files are
// extracted to plain text; everything else must be valid UTF-8 text.
func (in *Ingestor) IngestFile(ctx context.Context, path string, tags []string) ([]string, error) {
	var content string
	var err error

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		content, err = extractPDFText(path)
	} else {
		content, err = readTextFile(path)
	}
	if err != nil {
		return nil, err
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return in.IngestDocument(ctx, Document{
		Title:   title,
		Content: content,
		Source:  path,
		Tags:    tags,
	})
}

func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("ingest: %s is not valid UTF-8 text", path)
	}
	return string(data), nil
}

func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading pdf text from %s: %w", path, err)
	}
	return buf.String(), nil
}

// splitChunks breaks content on paragraph boundaries, packing paragraphs
// into chunks up to maxChars. A single paragraph longer than maxChars is
// split hard.
func splitChunks(content string, maxChars int) []string {
	if len(content) <= maxChars {
		return []string{content}
	}

	paragraphs := strings.Split(content, "\n\n")
	var chunks []string
	var cur strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		for len(p) > maxChars {
			flushChunk(&chunks, &cur)
			chunks = append(chunks, p[:maxChars])
			p = p[maxChars:]
		}
		if cur.Len() > 0 && cur.Len()+len(p)+2 > maxChars {
			flushChunk(&chunks, &cur)
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	flushChunk(&chunks, &cur)
	return chunks
}

func flushChunk(chunks *[]string, cur *strings.Builder) {
	if cur.Len() > 0 {
		*chunks = append(*chunks, cur.String())
		cur.Reset()
	}
}

func firstLine(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 80 {
		line = line[:80]
	}
	return line
}
