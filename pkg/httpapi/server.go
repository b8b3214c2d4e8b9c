// Package httpapi exposes the search orchestrator over HTTP.
//
// Routes:
//
//	POST /api/search            multipart upload, similarity search
//	GET  /api/metadata?query=   name substring search
//	GET  /api/stream/{name}     chunked stream of a staged query file
//	GET  /api/db-info           collection state
//	GET  /                      service banner
//
// Validation problems map to 4xx with a uniform {error, detail} body;
// everything else maps to a 500 with a redacted message and the detail
// logged server-side.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/audioseek/audioseek/pkg/index"
	"github.com/audioseek/audioseek/pkg/search"
	"github.com/audioseek/audioseek/pkg/tempstore"
)

// maxUploadBytes bounds multipart uploads (64 MiB).
const maxUploadBytes = 64 << 20

// Server handles the HTTP API.
type Server struct {
	orch *search.Orchestrator
}

// NewServer creates a Server around the orchestrator.
func NewServer(orch *search.Orchestrator) *Server {
	return &Server{orch: orch}
}

// SearchResponse is the body returned by search and metadata queries.
type SearchResponse struct {
	RequestType    string      `json:"request_type"`
	QueryFile      string      `json:"query_file,omitempty"`
	QueryString    string      `json:"query_string,omitempty"`
	QueryFileURL   string      `json:"query_file_url,omitempty"`
	Results        []index.Hit `json:"results"`
	ExtractionTime float64     `json:"extraction_time,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/metadata", s.handleMetadata)
	mux.HandleFunc("GET /api/stream/{name}", s.handleStream)
	mux.HandleFunc("GET /api/db-info", s.handleDBInfo)
	return withCORS(mux)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "audioseek: audio similarity search",
		"api_endpoints": map[string]string{
			"search":   "/api/search",
			"metadata": "/api/metadata?query=...",
			"stream":   "/api/stream/{name}",
			"db_info":  "/api/db-info",
		},
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable upload", err.Error())
		return
	}

	result, err := s.orch.SimilaritySearch(r.Context(), data, header.Filename)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		RequestType:    "file",
		QueryFile:      result.QueryFile,
		QueryFileURL:   "/api/stream/" + result.QueryRef,
		Results:        hitsOrEmpty(result.Hits),
		ExtractionTime: result.ExtractionTime.Seconds(),
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query", "query parameter 'query' is required")
		return
	}

	result, err := s.orch.NameSearch(r.Context(), query)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		RequestType: "metadata",
		QueryString: query,
		Results:     hitsOrEmpty(result.Hits),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	rc, size, contentType, err := s.orch.OpenStream(name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))

	if _, err := io.Copy(w, rc); err != nil {
		// Client gone mid-stream; the deferred Close still releases the
		// lease.
		slog.Debug("stream aborted", "name", name, "error", err)
	}
}

func (s *Server) handleDBInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.orch.Info(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// writeFailure maps orchestration errors to HTTP statuses. Validation and
// not-found outcomes keep their detail; everything else is redacted.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, search.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, "unsupported format", err.Error())
	case errors.Is(err, search.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, tempstore.ErrPathTraversal):
		// Report like a missing file; the reference is not valid.
		writeError(w, http.StatusNotFound, "not found", "unknown file reference")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func hitsOrEmpty(hits []index.Hit) []index.Hit {
	if hits == nil {
		return []index.Hit{}
	}
	return hits
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, errorResponse{Error: msg, Detail: detail})
}

// withCORS applies a permissive CORS policy; the service backs a browser
// frontend on a different origin.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewHTTPServer builds an http.Server with sane timeouts for the handler.
// Write timeout stays generous because streams can be long.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      10 * time.Minute,
	}
}
