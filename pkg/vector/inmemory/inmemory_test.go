package inmemory_test

import (
	"context"
	"testing"

	"github.com/skillmesh/skillmesh/pkg/vector"
	"github.com/skillmesh/skillmesh/pkg/vector/inmemory"
)

func seed(t *testing.T, d *inmemory.Driver) {
	t.Helper()
	err := d.Add(context.Background(), []vector.Document{
		{ID: "v1", GroupID: "g1", Embedding: []float32{1, 0, 0}},
		{ID: "v2", GroupID: "g2", Embedding: []float32{0.8, 0.6, 0}},
		{ID: "v3", GroupID: "g3", Embedding: []float32{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
}

func TestQueryRanksBySimilarity(t *testing.T) {
	d := inmemory.New()
	seed(t, d)

	results, err := d.Query(context.Background(), []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "v1" || results[1].ID != "v2" {
		t.Errorf("wrong order: %v, %v", results[0].ID, results[1].ID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %v >= %v", results[0].Score, results[1].Score)
	}
	if results[0].GroupID != "g1" {
		t.Errorf("group id lost: %q", results[0].GroupID)
	}
}

func TestAddReplacesExistingID(t *testing.T) {
	d := inmemory.New()
	seed(t, d)

	ctx := context.Background()
	if err := d.Add(ctx, []vector.Document{
		{ID: "v1", GroupID: "g1", Embedding: []float32{0, 0, 1}},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	docs, err := d.Get(ctx, []string{"v1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(docs) != 1 || docs[0].Embedding[2] != 1 {
		t.Errorf("document not replaced: %v", docs)
	}
}

func TestGetSkipsUnknownIDs(t *testing.T) {
	d := inmemory.New()
	seed(t, d)

	docs, err := d.Get(context.Background(), []string{"v1", "missing"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "v1" {
		t.Errorf("unexpected docs: %v", docs)
	}
}

func TestDelete(t *testing.T) {
	d := inmemory.New()
	seed(t, d)

	ctx := context.Background()
	if err := d.Delete(ctx, []string{"v1", "v2"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	results, err := d.Query(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].ID != "v3" {
		t.Errorf("delete left wrong docs: %v", results)
	}
}
