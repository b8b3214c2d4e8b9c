// Package index owns the fingerprint collection: provisioning, identifier
// allocation, dedup-aware ingestion, similarity search and name lookup.
//
// The collection lives in an external Qdrant instance. Record ids are
// allocated here as a contiguous integer range per batch; ingestion is
// assumed single-writer (one indexing job at a time), so id allocation is
// deliberately not serialized. Concurrent interactive searches are safe.
//
// The dedup key is the file name, not the full path: re-ingesting the same
// file from a different directory is still recognized as a duplicate. The
// source path is kept in the payload for provenance only.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/audioseek/audioseek/pkg/audio/feature"
	"github.com/audioseek/audioseek/pkg/qdrant"
)

// ErrEmptyBatch indicates InsertBatch was called with no records.
var ErrEmptyBatch = errors.New("index: empty batch")

// StatusAbsent is the Info status reported when the collection does not
// exist yet.
const StatusAbsent = "absent"

// scrollPage is the page size used for name scans.
const scrollPage = 256

// Hit is a search result: the stored file metadata plus a similarity score.
type Hit struct {
	feature.Metadata
	Similarity float64 `json:"similarity"`
}

// Info summarizes the collection state.
type Info struct {
	Name       string `json:"name"`
	PointCount int64  `json:"points_count"`
	Status     string `json:"status"`
}

// Catalog manages the audio fingerprint collection.
type Catalog struct {
	client     *qdrant.Client
	collection string
}

// New creates a Catalog for the named collection.
func New(client *qdrant.Client, collection string) *Catalog {
	return &Catalog{client: client, collection: collection}
}

// EnsureCollection makes the collection available with the given vector
// dimension. An existing collection is reused as-is unless recreate is set,
// in which case it is deleted and recreated empty. A dimension mismatch
// against a reused collection is not detected here; it surfaces as a hard
// error from the backend on the first insert.
func (c *Catalog) EnsureCollection(ctx context.Context, dim int, recreate bool) error {
	exists, err := c.client.CollectionExists(ctx, c.collection)
	if err != nil {
		return err
	}

	if exists && recreate {
		if err := c.client.DeleteCollection(ctx, c.collection); err != nil {
			return err
		}
		slog.Info("deleted collection", "collection", c.collection)
		exists = false
	}

	if exists {
		slog.Info("reusing existing collection", "collection", c.collection)
		return nil
	}

	if err := c.client.CreateCollection(ctx, c.collection, dim); err != nil {
		return err
	}
	// Lookup indexes: integer id for largest-id queries, keyword name for
	// dedup and name search.
	if err := c.client.CreateFieldIndex(ctx, c.collection, "id", "integer"); err != nil {
		return err
	}
	if err := c.client.CreateFieldIndex(ctx, c.collection, "file_name_lower", "keyword"); err != nil {
		return err
	}
	slog.Info("created collection", "collection", c.collection, "dimension", dim)
	return nil
}

// NextID returns the next free record id: the current maximum plus one, or
// 0 for an empty collection. It is computed fresh on every call because a
// recreate can reset the collection between batches.
func (c *Catalog) NextID(ctx context.Context) (uint64, error) {
	points, _, err := c.client.Scroll(ctx, qdrant.ScrollParams{
		Collection: c.collection,
		OrderBy:    &qdrant.OrderBy{Key: "id", Direction: "desc"},
		Limit:      1,
	})
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}
	return points[0].ID + 1, nil
}

// InsertBatch ingests extracted fingerprints keyed by source path. Records
// sharing a file name within the batch are collapsed to one (first path in
// lexical order wins), and unless recreate is set, records whose file name
// already exists in the collection are filtered out too. Returns the number
// of records actually inserted; zero (all duplicates) is not an error.
func (c *Catalog) InsertBatch(ctx context.Context, records map[string]*feature.Fingerprint, recreate bool) (int, error) {
	if len(records) == 0 {
		return 0, ErrEmptyBatch
	}

	var dim int
	for _, fp := range records {
		dim = len(fp.Vector)
		break
	}

	if err := c.EnsureCollection(ctx, dim, recreate); err != nil {
		return 0, err
	}

	fresh := dedupBatch(records)
	if !recreate {
		filtered := make(map[string]*feature.Fingerprint, len(fresh))
		skipped := 0
		for path, fp := range fresh {
			exists, err := c.nameExists(ctx, fp.Meta.FileName)
			if err != nil {
				return 0, err
			}
			if exists {
				skipped++
				continue
			}
			filtered[path] = fp
		}
		if skipped > 0 {
			slog.Info("skipping already indexed files", "count", skipped)
		}
		fresh = filtered
	}
	if len(fresh) == 0 {
		slog.Info("no new files to insert")
		return 0, nil
	}

	startID, err := c.NextID(ctx)
	if err != nil {
		return 0, err
	}

	points := make([]qdrant.Point, 0, len(fresh))
	for path, fp := range fresh {
		id := startID + uint64(len(points))
		points = append(points, qdrant.Point{
			ID:      id,
			Vector:  fp.Vector,
			Payload: payload(id, path, fp.Meta),
		})
	}

	if err := c.client.Upsert(ctx, c.collection, points); err != nil {
		return 0, err
	}
	slog.Info("inserted vectors", "count", len(points), "collection", c.collection)
	return len(points), nil
}

// SearchSimilar returns the topK nearest records by cosine similarity,
// best first. A missing or empty collection yields an empty result, not an
// error, so interactive search works before any ingestion has happened.
func (c *Catalog) SearchSimilar(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("index: topK must be positive, got %d", topK)
	}

	exists, err := c.client.CollectionExists(ctx, c.collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	scored, err := c.client.Search(ctx, qdrant.SearchParams{
		Collection: c.collection,
		Vector:     vector,
		Limit:      topK,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(scored))
	for _, p := range scored {
		hits = append(hits, Hit{Metadata: payloadMetadata(p.Payload), Similarity: p.Score})
	}
	return hits, nil
}

// SearchByName returns up to limit records whose file name contains the
// substring, matched case-insensitively. Similarity is fixed at 1.0: this
// is an exact lookup, not a similarity query. An empty result is normal
// here; the caller decides whether that is an error.
func (c *Catalog) SearchByName(ctx context.Context, substring string, limit int) ([]Hit, error) {
	exists, err := c.client.CollectionExists(ctx, c.collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	// The keyword index is exact-match only, so scan pages and match the
	// case-folded name client-side.
	needle := strings.ToLower(substring)
	var hits []Hit
	var offset any
	for {
		points, next, err := c.client.Scroll(ctx, qdrant.ScrollParams{
			Collection: c.collection,
			Limit:      scrollPage,
			Offset:     offset,
		})
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			name, _ := p.Payload["file_name_lower"].(string)
			if strings.Contains(name, needle) {
				hits = append(hits, Hit{Metadata: payloadMetadata(p.Payload), Similarity: 1.0})
				if limit > 0 && len(hits) >= limit {
					return hits, nil
				}
			}
		}
		if next == nil || len(points) == 0 {
			return hits, nil
		}
		offset = next
	}
}

// Info returns the collection name, record count and status. A missing
// collection reports StatusAbsent with a zero count instead of failing, so
// health checks need no special case.
func (c *Catalog) Info(ctx context.Context) (*Info, error) {
	exists, err := c.client.CollectionExists(ctx, c.collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &Info{Name: c.collection, Status: StatusAbsent}, nil
	}

	ci, err := c.client.CollectionInfo(ctx, c.collection)
	if err != nil {
		return nil, err
	}
	return &Info{Name: ci.Name, PointCount: ci.PointCount, Status: ci.Status}, nil
}

// dedupBatch collapses records sharing a case-folded file name to a single
// entry, so one batch can never store the same name twice. A recursive
// directory walk can pick up the same file name from several directories;
// the lexically first source path wins, deterministically.
func dedupBatch(records map[string]*feature.Fingerprint) map[string]*feature.Fingerprint {
	paths := make([]string, 0, len(records))
	for p := range records {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make(map[string]*feature.Fingerprint, len(records))
	kept := make(map[string]string, len(records))
	for _, path := range paths {
		fp := records[path]
		name := strings.ToLower(fp.Meta.FileName)
		if prev, dup := kept[name]; dup {
			slog.Warn("duplicate file name in batch",
				"name", fp.Meta.FileName, "kept", prev, "skipped", path)
			continue
		}
		kept[name] = path
		out[path] = fp
	}
	return out
}

// nameExists reports whether a record with the given file name is already
// stored, matching on the case-folded name.
func (c *Catalog) nameExists(ctx context.Context, fileName string) (bool, error) {
	points, _, err := c.client.Scroll(ctx, qdrant.ScrollParams{
		Collection: c.collection,
		Filter: &qdrant.Filter{Must: []qdrant.Condition{
			{Key: "file_name_lower", Match: strings.ToLower(fileName)},
		}},
		Limit: 1,
	})
	if err != nil {
		return false, err
	}
	return len(points) > 0, nil
}

// payload builds the stored metadata bag. The id is duplicated into the
// payload so the integer field index can order by it.
func payload(id uint64, path string, m feature.Metadata) map[string]any {
	return map[string]any{
		"id":              id,
		"file_path":       path,
		"file_name":       m.FileName,
		"file_name_lower": strings.ToLower(m.FileName),
		"file_type":       m.FileType,
		"file_size_kb":    m.FileSizeKB,
		"sample_rate":     m.SampleRate,
		"channel":         m.Channels,
		"samples":         m.Samples,
		"duration":        m.Duration,
		"subtype":         m.Subtype,
	}
}

func payloadMetadata(p map[string]any) feature.Metadata {
	return feature.Metadata{
		FileName:   asString(p["file_name"]),
		FileType:   asString(p["file_type"]),
		FileSizeKB: asFloat(p["file_size_kb"]),
		SampleRate: int(asFloat(p["sample_rate"])),
		Channels:   int(asFloat(p["channel"])),
		Samples:    int(asFloat(p["samples"])),
		Duration:   asFloat(p["duration"]),
		Subtype:    asString(p["subtype"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asFloat tolerates the numeric shapes JSON decoding produces.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}
