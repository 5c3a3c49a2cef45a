package embeddings_test

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/skillmesh/skillmesh/pkg/embeddings"
)

// countingEmbedder tracks how often the underlying embedder is hit.
type countingEmbedder struct {
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	c.calls.Add(1)
	return []float32{1, 0, 0}, nil
}

func (c *countingEmbedder) Close() error { return nil }

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"partial", []float32{1, 0, 0}, []float32{0.8, 0.6, 0}, 0.8},
		{"mismatched lengths", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero norm", []float32{0, 0, 0}, []float32{1, 0, 0}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := embeddings.CosineSimilarity(c.a, c.b)
			if math.Abs(got-c.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestFindSimilar(t *testing.T) {
	query := []float32{1, 0, 0}
	candidates := []embeddings.Candidate{
		{ID: "exact", Embedding: []float32{1, 0, 0}},
		{ID: "close", Embedding: []float32{0.8, 0.6, 0}},
		{ID: "far", Embedding: []float32{0, 1, 0}},
	}

	matches := embeddings.FindSimilar(query, candidates, 0, 0.5)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "exact" || matches[1].ID != "close" {
		t.Errorf("wrong order: %v", matches)
	}

	matches = embeddings.FindSimilar(query, candidates, 1, 0)
	if len(matches) != 1 || matches[0].ID != "exact" {
		t.Errorf("topK not applied: %v", matches)
	}
}

func TestSkillEmbeddingCaches(t *testing.T) {
	embedder := &countingEmbedder{}
	svc := embeddings.NewService(embedder, nil)
	ctx := context.Background()

	for range 3 {
		vec, err := svc.SkillEmbedding(ctx, "extract-csv", "Extract tabular data", "")
		if err != nil {
			t.Fatalf("SkillEmbedding: %v", err)
		}
		if len(vec) != 3 {
			t.Fatalf("wrong vector: %v", vec)
		}
	}
	if n := embedder.calls.Load(); n != 1 {
		t.Errorf("expected 1 embed call, got %d", n)
	}

	svc.InvalidateCache()
	if _, err := svc.SkillEmbedding(ctx, "extract-csv", "Extract tabular data", ""); err != nil {
		t.Fatalf("SkillEmbedding: %v", err)
	}
	if n := embedder.calls.Load(); n != 2 {
		t.Errorf("expected re-embed after invalidation, got %d calls", n)
	}
}

func TestQueryEmbeddingNotCached(t *testing.T) {
	embedder := &countingEmbedder{}
	svc := embeddings.NewService(embedder, nil)
	ctx := context.Background()

	for range 2 {
		if _, err := svc.QueryEmbedding(ctx, "export dashboards"); err != nil {
			t.Fatalf("QueryEmbedding: %v", err)
		}
	}
	if n := embedder.calls.Load(); n != 2 {
		t.Errorf("expected 2 embed calls, got %d", n)
	}
}

func TestNilEmbedderDisabled(t *testing.T) {
	svc := embeddings.NewService(nil, nil)
	if svc.Enabled() {
		t.Error("nil embedder reported enabled")
	}

	vec, err := svc.SkillEmbedding(context.Background(), "a", "b", "")
	if err != nil {
		t.Fatalf("SkillEmbedding: %v", err)
	}
	if vec != nil {
		t.Errorf("expected nil vector, got %v", vec)
	}
}
