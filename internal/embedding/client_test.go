package embedding

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
)

type mockEngine struct {
	calls  atomic.Int32
	failOn string
}

func (m *mockEngine) Embed(_ context.Context, model, text string) ([]float32, error) {
	m.calls.Add(1)
	if text == m.failOn {
		return nil, fmt.Errorf("engine refused %q", text)
	}
	// Vector encodes the text length so tests can match input to output.
	return []float32{float32(len(text)), float32(len(model))}, nil
}

func TestEmbed(t *testing.T) {
	c := NewClient(&mockEngine{}, "nomic-embed-text")

	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 5 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbedBatch(t *testing.T) {
	engine := &mockEngine{}
	c := NewClient(engine, "m")

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	// Order is preserved despite concurrent embedding.
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vecs[%d] = %v, want length %d", i, vecs[i], len(text))
		}
	}
	if engine.calls.Load() != int32(len(texts)) {
		t.Errorf("engine called %d times", engine.calls.Load())
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	c := NewClient(&mockEngine{}, "m")
	vecs, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("got %v, %v", vecs, err)
	}
}

func TestEmbedBatch_FailureFailsWhole(t *testing.T) {
	c := NewClient(&mockEngine{failOn: "bad"}, "m")
	if _, err := c.EmbedBatch(context.Background(), []string{"ok", "bad"}); err == nil {
		t.Fatal("expected batch to fail when one embed fails")
	}
}
