// Package qdranttest provides an in-memory fake of the Qdrant REST API
// surface the module uses, for package tests. It implements collection
// management, point upsert, cosine similarity search and filtered,
// orderable scroll with real behavior, so tests exercise the same request
// and response shapes as a live instance.
package qdranttest

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
)

type point struct {
	ID      uint64         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type collection struct {
	dim    int
	points map[uint64]point
}

// Server is a fake Qdrant instance.
type Server struct {
	mu          sync.Mutex
	collections map[string]*collection
	httpServer  *httptest.Server
}

// New starts a fake Qdrant server. Call Close when done.
func New() *Server {
	s := &Server{collections: make(map[string]*collection)}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /collections/{name}", s.handleCreate)
	mux.HandleFunc("DELETE /collections/{name}", s.handleDelete)
	mux.HandleFunc("GET /collections/{name}", s.handleInfo)
	mux.HandleFunc("PUT /collections/{name}/index", s.handleIndex)
	mux.HandleFunc("PUT /collections/{name}/points", s.handleUpsert)
	mux.HandleFunc("POST /collections/{name}/points/search", s.handleSearch)
	mux.HandleFunc("POST /collections/{name}/points/scroll", s.handleScroll)

	s.httpServer = httptest.NewServer(mux)
	return s
}

// URL returns the base URL of the fake server.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// PointCount returns the number of stored points in a collection.
func (s *Server) PointCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collections[name]
	if c == nil {
		return 0
	}
	return len(c.points)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vectors struct {
			Size int `json:"size"`
		} `json:"vectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.collections[r.PathValue("name")] = &collection{
		dim:    body.Vectors.Size,
		points: make(map[uint64]point),
	}
	s.mu.Unlock()
	ok(w)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.collections, r.PathValue("name"))
	s.mu.Unlock()
	ok(w)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c := s.collections[r.PathValue("name")]
	s.mu.Unlock()
	if c == nil {
		http.Error(w, `{"status":{"error":"collection not found"}}`, http.StatusNotFound)
		return
	}

	writeResult(w, map[string]any{
		"status":       "green",
		"points_count": len(c.points),
		"config": map[string]any{
			"params": map[string]any{
				"vectors": map[string]any{"size": c.dim},
			},
		},
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	_, exists := s.collections[r.PathValue("name")]
	s.mu.Unlock()
	if !exists {
		http.Error(w, "collection not found", http.StatusNotFound)
		return
	}
	ok(w)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Points []point `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collections[r.PathValue("name")]
	if c == nil {
		http.Error(w, "collection not found", http.StatusNotFound)
		return
	}
	for _, p := range body.Points {
		if len(p.Vector) != c.dim {
			http.Error(w, "vector dimension mismatch", http.StatusBadRequest)
			return
		}
		c.points[p.ID] = p
	}
	ok(w)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vector []float32 `json:"vector"`
		Limit  int       `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collections[r.PathValue("name")]
	if c == nil {
		http.Error(w, "collection not found", http.StatusNotFound)
		return
	}

	type scored struct {
		ID      uint64         `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	results := make([]scored, 0, len(c.points))
	for _, p := range c.points {
		results = append(results, scored{
			ID:      p.ID,
			Score:   cosine(body.Vector, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if body.Limit > 0 && len(results) > body.Limit {
		results = results[:body.Limit]
	}
	writeResult(w, results)
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Limit  int `json:"limit"`
		Filter *struct {
			Must []struct {
				Key   string `json:"key"`
				Match struct {
					Value any `json:"value"`
				} `json:"match"`
			} `json:"must"`
		} `json:"filter"`
		OrderBy *struct {
			Key       string `json:"key"`
			Direction string `json:"direction"`
		} `json:"order_by"`
		Offset any `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collections[r.PathValue("name")]
	if c == nil {
		http.Error(w, "collection not found", http.StatusNotFound)
		return
	}

	matches := make([]point, 0, len(c.points))
	for _, p := range c.points {
		if body.Filter != nil && !matchesFilter(p.Payload, body.Filter.Must) {
			continue
		}
		matches = append(matches, p)
	}

	if body.OrderBy != nil {
		key, desc := body.OrderBy.Key, strings.EqualFold(body.OrderBy.Direction, "desc")
		sort.Slice(matches, func(i, j int) bool {
			a, _ := matches[i].Payload[key].(float64)
			b, _ := matches[j].Payload[key].(float64)
			if desc {
				return a > b
			}
			return a < b
		})
	} else {
		sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	}

	// Offset is an id-based page token.
	start := 0
	if off, okOff := body.Offset.(float64); okOff {
		for i, p := range matches {
			if p.ID >= uint64(off) {
				start = i
				break
			}
		}
	}
	matches = matches[start:]

	var next any
	if body.Limit > 0 && len(matches) > body.Limit {
		next = matches[body.Limit].ID
		matches = matches[:body.Limit]
	}

	type record struct {
		ID      uint64         `json:"id"`
		Payload map[string]any `json:"payload"`
	}
	records := make([]record, len(matches))
	for i, p := range matches {
		records[i] = record{ID: p.ID, Payload: p.Payload}
	}
	writeResult(w, map[string]any{
		"points":           records,
		"next_page_offset": next,
	})
}

func matchesFilter(payload map[string]any, must []struct {
	Key   string `json:"key"`
	Match struct {
		Value any `json:"value"`
	} `json:"match"`
}) bool {
	for _, cond := range must {
		if payload[cond.Key] != cond.Match.Value {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func ok(w http.ResponseWriter) {
	writeResult(w, true)
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": result})
}
