package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/audioseek/audioseek/internal/qdranttest"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := qdranttest.New()
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL()})
}

func TestCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	exists, err := c.CollectionExists(ctx, "fp")
	if err != nil {
		t.Fatalf("CollectionExists: %v", err)
	}
	if exists {
		t.Fatal("collection exists before creation")
	}

	if err := c.CreateCollection(ctx, "fp", 4); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := c.CreateFieldIndex(ctx, "fp", "id", "integer"); err != nil {
		t.Fatalf("CreateFieldIndex: %v", err)
	}

	exists, err = c.CollectionExists(ctx, "fp")
	if err != nil {
		t.Fatalf("CollectionExists: %v", err)
	}
	if !exists {
		t.Fatal("collection missing after creation")
	}

	info, err := c.CollectionInfo(ctx, "fp")
	if err != nil {
		t.Fatalf("CollectionInfo: %v", err)
	}
	if info.Name != "fp" || info.Dimensions != 4 || info.PointCount != 0 {
		t.Errorf("info = %+v, want name=fp dim=4 count=0", info)
	}

	if err := c.DeleteCollection(ctx, "fp"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	exists, err = c.CollectionExists(ctx, "fp")
	if err != nil {
		t.Fatalf("CollectionExists: %v", err)
	}
	if exists {
		t.Fatal("collection survived deletion")
	}
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	if err := c.CreateCollection(ctx, "fp", 3); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	points := []Point{
		{ID: 0, Vector: []float32{1, 0, 0}, Payload: map[string]any{"file_name": "a.wav"}},
		{ID: 1, Vector: []float32{0, 1, 0}, Payload: map[string]any{"file_name": "b.wav"}},
		{ID: 2, Vector: []float32{0.9, 0.1, 0}, Payload: map[string]any{"file_name": "c.wav"}},
	}
	if err := c.Upsert(ctx, "fp", points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := c.Search(ctx, SearchParams{Collection: "fp", Vector: []float32{1, 0, 0}, Limit: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ID != 0 {
		t.Errorf("best hit id = %d, want 0", hits[0].ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not sorted best first: %f < %f", hits[0].Score, hits[1].Score)
	}
	if name := hits[0].Payload["file_name"]; name != "a.wav" {
		t.Errorf("best hit payload name = %v, want a.wav", name)
	}
}

func TestUpsertDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	if err := c.CreateCollection(ctx, "fp", 3); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	err := c.Upsert(ctx, "fp", []Point{{ID: 0, Vector: []float32{1, 0}}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Upsert(bad dim) = %v, want ErrUnavailable", err)
	}
}

func TestScrollFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	if err := c.CreateCollection(ctx, "fp", 2); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	var points []Point
	for i := 0; i < 5; i++ {
		kind := "even"
		if i%2 == 1 {
			kind = "odd"
		}
		points = append(points, Point{
			ID:      uint64(i),
			Vector:  []float32{1, 0},
			Payload: map[string]any{"id": i, "kind": kind},
		})
	}
	if err := c.Upsert(ctx, "fp", points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	recs, _, err := c.Scroll(ctx, ScrollParams{
		Collection: "fp",
		Filter:     &Filter{Must: []Condition{{Key: "kind", Match: "odd"}}},
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("filtered scroll returned %d records, want 2", len(recs))
	}

	// Page through everything two at a time.
	var seen []uint64
	var offset any
	for {
		recs, next, err := c.Scroll(ctx, ScrollParams{Collection: "fp", Limit: 2, Offset: offset})
		if err != nil {
			t.Fatalf("Scroll: %v", err)
		}
		for _, r := range recs {
			seen = append(seen, r.ID)
		}
		if next == nil {
			break
		}
		offset = next
	}
	if len(seen) != 5 {
		t.Fatalf("paged scroll saw %d records, want 5: %v", len(seen), seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("ids not ascending: %v", seen)
		}
	}
}

func TestScrollOrderByDescending(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	if err := c.CreateCollection(ctx, "fp", 2); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	var points []Point
	for i := 0; i < 4; i++ {
		points = append(points, Point{ID: uint64(i), Vector: []float32{1, 0}, Payload: map[string]any{"id": i}})
	}
	if err := c.Upsert(ctx, "fp", points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	recs, _, err := c.Scroll(ctx, ScrollParams{
		Collection: "fp",
		OrderBy:    &OrderBy{Key: "id", Direction: "desc"},
		Limit:      1,
	})
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != 3 {
		t.Fatalf("order_by desc limit 1 = %+v, want single record id 3", recs)
	}
}

func TestUnreachableServer(t *testing.T) {
	srv := qdranttest.New()
	url := srv.URL()
	srv.Close()

	c := New(Config{BaseURL: url})
	_, err := c.CollectionExists(context.Background(), "fp")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("CollectionExists(down) = %v, want ErrUnavailable", err)
	}
}

func TestConditionMarshal(t *testing.T) {
	data, err := json.Marshal(Condition{Key: "file_name_lower", Match: "kick.wav"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"key":"file_name_lower","match":{"value":"kick.wav"}}`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}
}
