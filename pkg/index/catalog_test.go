package index

import (
	"context"
	"errors"
	"testing"

	"github.com/audioseek/audioseek/internal/qdranttest"
	"github.com/audioseek/audioseek/pkg/audio/feature"
	"github.com/audioseek/audioseek/pkg/qdrant"
)

func newTestCatalog(t *testing.T) (*Catalog, *qdranttest.Server) {
	t.Helper()
	srv := qdranttest.New()
	t.Cleanup(srv.Close)
	client := qdrant.New(qdrant.Config{BaseURL: srv.URL()})
	return New(client, "audio_vectors"), srv
}

func fp(name string, vector ...float32) *feature.Fingerprint {
	return &feature.Fingerprint{
		Vector: vector,
		Meta: feature.Metadata{
			FileName:   name,
			FileType:   ".wav",
			SampleRate: 22050,
			Channels:   1,
			Duration:   1,
			Subtype:    "PCM_16",
		},
	}
}

func TestInsertBatchEmpty(t *testing.T) {
	c, _ := newTestCatalog(t)
	_, err := c.InsertBatch(context.Background(), nil, false)
	if !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("InsertBatch(nil) = %v, want ErrEmptyBatch", err)
	}
}

func TestInsertBatchAssignsContiguousIDs(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestCatalog(t)

	batch := map[string]*feature.Fingerprint{
		"/a/kick.wav":  fp("kick.wav", 1, 0, 0),
		"/a/snare.wav": fp("snare.wav", 0, 1, 0),
		"/a/hat.wav":   fp("hat.wav", 0, 0, 1),
	}
	n, err := c.InsertBatch(ctx, batch, false)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if n != 3 {
		t.Fatalf("inserted %d, want 3", n)
	}
	if got := srv.PointCount("audio_vectors"); got != 3 {
		t.Fatalf("stored %d points, want 3", got)
	}

	next, err := c.NextID(ctx)
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if next != 3 {
		t.Fatalf("NextID after 3 inserts = %d, want 3", next)
	}

	// A second batch continues the range.
	n, err = c.InsertBatch(ctx, map[string]*feature.Fingerprint{
		"/b/tom.wav": fp("tom.wav", 1, 1, 0),
	}, false)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted %d, want 1", n)
	}
	next, err = c.NextID(ctx)
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if next != 4 {
		t.Fatalf("NextID after 4 inserts = %d, want 4", next)
	}
}

func TestNextIDEmptyCollection(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCatalog(t)

	if err := c.EnsureCollection(ctx, 3, false); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	next, err := c.NextID(ctx)
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if next != 0 {
		t.Fatalf("NextID on empty collection = %d, want 0", next)
	}
}

func TestInsertBatchDedupByName(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestCatalog(t)

	if _, err := c.InsertBatch(ctx, map[string]*feature.Fingerprint{
		"/a/kick.wav": fp("kick.wav", 1, 0, 0),
	}, false); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	// Same name from a different directory and in a different case is
	// still a duplicate.
	n, err := c.InsertBatch(ctx, map[string]*feature.Fingerprint{
		"/other/KICK.WAV": fp("KICK.WAV", 1, 0, 0),
	}, false)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if n != 0 {
		t.Fatalf("inserted %d duplicates, want 0", n)
	}
	if got := srv.PointCount("audio_vectors"); got != 1 {
		t.Fatalf("stored %d points, want 1", got)
	}
}

func TestInsertBatchDedupWithinBatch(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestCatalog(t)

	// The same file name from two directories arrives in one batch; only
	// one record may be stored.
	n, err := c.InsertBatch(ctx, map[string]*feature.Fingerprint{
		"/a/kick.wav": fp("kick.wav", 1, 0, 0),
		"/b/KICK.WAV": fp("KICK.WAV", 1, 0, 0),
		"/a/hat.wav":  fp("hat.wav", 0, 0, 1),
	}, false)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted %d, want 2", n)
	}
	if got := srv.PointCount("audio_vectors"); got != 2 {
		t.Fatalf("stored %d points, want 2", got)
	}

	hits, err := c.SearchByName(ctx, "kick", 10)
	if err != nil {
		t.Fatalf("SearchByName: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d records named kick, want 1", len(hits))
	}
	// Lexically first path wins.
	if hits[0].FileName != "kick.wav" {
		t.Errorf("kept record = %q, want kick.wav", hits[0].FileName)
	}

	// The same collapse applies on a recreate run.
	n, err = c.InsertBatch(ctx, map[string]*feature.Fingerprint{
		"/a/snare.wav": fp("snare.wav", 0, 1, 0),
		"/b/snare.wav": fp("snare.wav", 0, 1, 0),
	}, true)
	if err != nil {
		t.Fatalf("InsertBatch(recreate): %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted %d after recreate, want 1", n)
	}
	if got := srv.PointCount("audio_vectors"); got != 1 {
		t.Fatalf("stored %d points after recreate, want 1", got)
	}
}

func TestInsertBatchRecreate(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestCatalog(t)

	if _, err := c.InsertBatch(ctx, map[string]*feature.Fingerprint{
		"/a/kick.wav":  fp("kick.wav", 1, 0, 0),
		"/a/snare.wav": fp("snare.wav", 0, 1, 0),
	}, false); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	n, err := c.InsertBatch(ctx, map[string]*feature.Fingerprint{
		"/a/kick.wav": fp("kick.wav", 1, 0, 0),
	}, true)
	if err != nil {
		t.Fatalf("InsertBatch(recreate): %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted %d after recreate, want 1", n)
	}
	if got := srv.PointCount("audio_vectors"); got != 1 {
		t.Fatalf("stored %d points after recreate, want 1", got)
	}

	next, err := c.NextID(ctx)
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if next != 1 {
		t.Fatalf("NextID after recreate = %d, want 1", next)
	}
}

func TestSearchSimilar(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCatalog(t)

	if _, err := c.InsertBatch(ctx, map[string]*feature.Fingerprint{
		"/a/kick.wav":  fp("kick.wav", 1, 0, 0),
		"/a/snare.wav": fp("snare.wav", 0, 1, 0),
		"/a/hat.wav":   fp("hat.wav", 0, 0, 1),
	}, false); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	hits, err := c.SearchSimilar(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].FileName != "kick.wav" {
		t.Errorf("best hit = %q, want kick.wav", hits[0].FileName)
	}
	if hits[0].Similarity < 0.999 {
		t.Errorf("best similarity = %f, want ~1", hits[0].Similarity)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Error("hits not sorted best first")
	}
}

func TestSearchSimilarValidatesTopK(t *testing.T) {
	c, _ := newTestCatalog(t)
	if _, err := c.SearchSimilar(context.Background(), []float32{1}, 0); err == nil {
		t.Fatal("SearchSimilar(topK=0) = nil error, want error")
	}
}

func TestSearchSimilarAbsentCollection(t *testing.T) {
	c, _ := newTestCatalog(t)
	hits, err := c.SearchSimilar(context.Background(), []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("got %d hits from absent collection, want 0", len(hits))
	}
}

func TestSearchByName(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCatalog(t)

	if _, err := c.InsertBatch(ctx, map[string]*feature.Fingerprint{
		"/a/SAD_TROMBONE.WAV": fp("SAD_TROMBONE.WAV", 1, 0, 0),
		"/a/happy_horn.wav":   fp("happy_horn.wav", 0, 1, 0),
		"/a/sad_violin.wav":   fp("sad_violin.wav", 0, 0, 1),
	}, false); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	hits, err := c.SearchByName(ctx, "SaD", 10)
	if err != nil {
		t.Fatalf("SearchByName: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	for _, h := range hits {
		if h.Similarity != 1.0 {
			t.Errorf("name hit similarity = %f, want 1.0", h.Similarity)
		}
	}

	hits, err = c.SearchByName(ctx, "sad", 1)
	if err != nil {
		t.Fatalf("SearchByName: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("limited search got %d hits, want 1", len(hits))
	}

	hits, err = c.SearchByName(ctx, "doesnotexist", 10)
	if err != nil {
		t.Fatalf("SearchByName: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("got %d hits for unknown name, want 0", len(hits))
	}
}

func TestSearchByNameAbsentCollection(t *testing.T) {
	c, _ := newTestCatalog(t)
	hits, err := c.SearchByName(context.Background(), "kick", 10)
	if err != nil {
		t.Fatalf("SearchByName: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("got %d hits from absent collection, want 0", len(hits))
	}
}

func TestInfo(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCatalog(t)

	info, err := c.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Status != StatusAbsent || info.PointCount != 0 {
		t.Fatalf("absent info = %+v, want status=absent count=0", info)
	}

	if _, err := c.InsertBatch(ctx, map[string]*feature.Fingerprint{
		"/a/kick.wav": fp("kick.wav", 1, 0, 0),
	}, false); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	info, err = c.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Name != "audio_vectors" || info.PointCount != 1 {
		t.Fatalf("info = %+v, want name=audio_vectors count=1", info)
	}
}
