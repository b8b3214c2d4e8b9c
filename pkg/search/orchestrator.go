// Package search composes fingerprint extraction, the vector catalog and
// the temp-file store into the operations the HTTP surface and the CLI
// expose: similarity search by uploaded sample, metadata search by name,
// re-streaming of query files and batch directory ingestion.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/audioseek/audioseek/pkg/audio/feature"
	"github.com/audioseek/audioseek/pkg/index"
	"github.com/audioseek/audioseek/pkg/tempstore"
)

var (
	// ErrUnsupportedFormat indicates an upload with a disallowed extension.
	ErrUnsupportedFormat = errors.New("search: unsupported audio format")

	// ErrNotFound indicates a query that matched nothing.
	ErrNotFound = errors.New("search: no results")
)

// DefaultTopK is the number of similar records returned per query.
const DefaultTopK = 3

var contentTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

// Result is the outcome of a similarity or name search.
type Result struct {
	// QueryFile is the original upload file name, empty for name searches.
	QueryFile string

	// QueryRef references the saved query file in the temp store so the
	// caller can request a stream of the original query audio. It is a
	// reference, never raw bytes or a filesystem path.
	QueryRef string

	// Hits are ordered by descending similarity.
	Hits []index.Hit

	// ExtractionTime and QueryTime record how long fingerprinting and the
	// vector query took.
	ExtractionTime time.Duration
	QueryTime      time.Duration
}

// IngestStats summarizes a directory ingestion run.
type IngestStats struct {
	Extracted int
	Inserted  int
}

// Orchestrator wires the three core components together. It is the only
// type aware of all of them.
type Orchestrator struct {
	extractor *feature.Extractor
	catalog   *index.Catalog
	files     *tempstore.Store
	topK      int
}

// New creates an Orchestrator. topK <= 0 selects DefaultTopK.
func New(extractor *feature.Extractor, catalog *index.Catalog, files *tempstore.Store, topK int) *Orchestrator {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Orchestrator{
		extractor: extractor,
		catalog:   catalog,
		files:     files,
		topK:      topK,
	}
}

// SimilaritySearch stages the uploaded audio in the temp store, extracts
// its fingerprint and returns the most similar indexed records.
func (o *Orchestrator) SimilaritySearch(ctx context.Context, data []byte, filename string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !feature.SupportedExtension(ext) {
		return nil, fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedFormat, ext, strings.Join(feature.Extensions, ", "))
	}

	ref, err := o.files.Save(data, filename)
	if err != nil {
		return nil, err
	}

	extractStart := time.Now()
	fp, err := o.extractor.Extract(ctx, filepath.Join(o.files.Root(), ref))
	if err != nil {
		return nil, err
	}
	extractionTime := time.Since(extractStart)
	slog.Info("extracted query fingerprint", "file", filename, "took", extractionTime)

	queryStart := time.Now()
	hits, err := o.catalog.SearchSimilar(ctx, fp.Vector, o.topK)
	if err != nil {
		return nil, err
	}
	queryTime := time.Since(queryStart)
	slog.Info("similarity query done", "hits", len(hits), "took", queryTime)

	return &Result{
		QueryFile:      filename,
		QueryRef:       ref,
		Hits:           hits,
		ExtractionTime: extractionTime,
		QueryTime:      queryTime,
	}, nil
}

// NameSearch returns indexed records whose file name contains the
// substring. An empty result is reported as ErrNotFound at this layer;
// the catalog itself treats it as a normal empty list.
func (o *Orchestrator) NameSearch(ctx context.Context, substring string) (*Result, error) {
	hits, err := o.catalog.SearchByName(ctx, substring, 0)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w: no file name contains %q", ErrNotFound, substring)
	}
	return &Result{Hits: hits}, nil
}

// OpenStream resolves a query-file reference and opens it for chunked
// reading. The reference must stay inside the managed temp directory.
// The caller owns the returned reader and must close it.
func (o *Orchestrator) OpenStream(ref string) (io.ReadCloser, int64, string, error) {
	rc, size, err := o.files.Stream(ref)
	if err != nil {
		return nil, 0, "", err
	}
	contentType, ok := contentTypes[strings.ToLower(filepath.Ext(ref))]
	if !ok {
		contentType = "application/octet-stream"
	}
	return rc, size, contentType, nil
}

// Info reports the collection state.
func (o *Orchestrator) Info(ctx context.Context) (*index.Info, error) {
	return o.catalog.Info(ctx)
}

// IndexDirectory extracts fingerprints from every supported audio file
// under dir and ingests them. With recreate the collection is rebuilt from
// scratch; otherwise already indexed names are skipped. Per-file
// extraction failures are logged and skipped, never aborting the batch.
func (o *Orchestrator) IndexDirectory(ctx context.Context, dir string, recreate bool) (*IngestStats, error) {
	prints, err := o.extractor.ExtractDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	if len(prints) == 0 {
		return &IngestStats{}, nil
	}

	inserted, err := o.catalog.InsertBatch(ctx, prints, recreate)
	if err != nil {
		return nil, err
	}
	return &IngestStats{Extracted: len(prints), Inserted: inserted}, nil
}
