// Package pbtest provides an in-memory record store speaking the subset of
// the PocketBase REST API used by this module, for tests.
package pbtest

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tableturnerr/ttcrm/internal/pocketbase"
)

// Request is a request observed by the server.
type Request struct {
	Method     string
	Collection string
	ID         string
	Query      map[string]string
	Body       map[string]any
	Auth       string
}

// Handler intercepts a request before the store sees it. Returning true
// means the request was fully handled.
type Handler func(w http.ResponseWriter, r *http.Request) bool

// Server is a fake record store.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string][]map[string]any
	requests    []Request
	seq         int
	intercepts  []Handler
	now         func() time.Time
}

// NewServer starts a fake store that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		collections: make(map[string][]map[string]any),
		now:         func() time.Time { return time.Now().UTC() },
	}

	r := chi.NewRouter()
	r.Use(s.intercept)
	r.Post("/api/collections/{collection}/auth-with-password", s.handleAuth)
	r.Post("/api/collections/{collection}/auth-refresh", s.handleRefresh)
	r.Get("/api/collections/{collection}/records", s.handleList)
	r.Post("/api/collections/{collection}/records", s.handleCreate)
	r.Get("/api/collections/{collection}/records/{id}", s.handleOne)
	r.Patch("/api/collections/{collection}/records/{id}", s.handleUpdate)
	r.Delete("/api/collections/{collection}/records/{id}", s.handleDelete)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Server.Close)
	return s
}

// NewClient returns a client bound to the server. When userID is not empty
// the client carries a session for that user.
func (s *Server) NewClient(userID string, opts ...pocketbase.Option) *pocketbase.Client {
	opts = append([]pocketbase.Option{pocketbase.WithHTTPClient(s.Server.Client())}, opts...)
	c := pocketbase.New(s.URL, opts...)
	if userID != "" {
		rec, _ := json.Marshal(map[string]any{"id": userID})
		c.Auth().Save("token-"+userID, userID, rec)
	}
	return c
}

// Intercept installs a handler that runs before the store for every request.
func (s *Server) Intercept(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercepts = append(s.intercepts, h)
}

// Fail makes the next n requests matching method and collection fail with status.
func (s *Server) Fail(method, collection string, status, n int) {
	var mu sync.Mutex
	left := n
	s.Intercept(func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method != method || collectionOf(r.URL.Path) != collection {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		if left <= 0 {
			return false
		}
		left--
		WriteError(w, status, fmt.Sprintf("injected failure %d", status), nil)
		return true
	})
}

// SetNow fixes the clock used for created/updated stamps.
func (s *Server) SetNow(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

// Seed inserts records and returns their ids. Records without an id get one.
func (s *Server) Seed(collection string, records ...map[string]any) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		stored := s.insertLocked(collection, rec)
		ids = append(ids, stored["id"].(string))
	}
	return ids
}

// Records returns copies of every record in a collection, in insertion order.
func (s *Server) Records(collection string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.collections[collection]))
	for _, rec := range s.collections[collection] {
		out = append(out, clone(rec))
	}
	return out
}

// Record returns a copy of one record.
func (s *Server) Record(collection, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, _ := s.findLocked(collection, id); rec != nil {
		return clone(rec), true
	}
	return nil, false
}

// Requests returns the observed requests matching method and collection.
// Empty arguments match anything.
func (s *Server) Requests(method, collection string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if (method == "" || r.Method == method) && (collection == "" || r.Collection == collection) {
			out = append(out, r)
		}
	}
	return out
}

// WriteError writes a store-shaped error body.
func WriteError(w http.ResponseWriter, status int, message string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": status, "message": message, "data": data})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func collectionOf(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/api/collections/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		s.mu.Lock()
		hs := append([]Handler(nil), s.intercepts...)
		s.mu.Unlock()
		for _, h := range hs {
			if h(w, r) {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// record logs the request and restores its body for the handlers.
func (s *Server) record(r *http.Request) {
	req := Request{
		Method:     r.Method,
		Collection: collectionOf(r.URL.Path),
		Query:      map[string]string{},
		Auth:       r.Header.Get("Authorization"),
	}
	if parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/collections/"), "/"); len(parts) == 3 {
		req.ID = parts[2]
	}
	for k := range r.URL.Query() {
		req.Query[k] = r.URL.Query().Get(k)
	}
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(raw)))
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") && len(raw) > 0 {
			json.Unmarshal(raw, &req.Body)
		}
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
}

func (s *Server) insertLocked(collection string, rec map[string]any) map[string]any {
	stored := clone(rec)
	if id, _ := stored["id"].(string); id == "" {
		s.seq++
		stored["id"] = fmt.Sprintf("r%014d", s.seq)
	}
	stamp := s.now().Format(pocketbase.DateTimeLayout)
	if _, ok := stored["created"]; !ok {
		stored["created"] = stamp
	}
	if _, ok := stored["updated"]; !ok {
		stored["updated"] = stamp
	}
	s.collections[collection] = append(s.collections[collection], stored)
	return stored
}

func (s *Server) findLocked(collection, id string) (map[string]any, int) {
	for i, rec := range s.collections[collection] {
		if rec["id"] == id {
			return rec, i
		}
	}
	return nil, -1
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	q := r.URL.Query()
	page := atoiDefault(q.Get("page"), 1)
	perPage := atoiDefault(q.Get("perPage"), 30)

	match := func(map[string]any) bool { return true }
	if f := q.Get("filter"); f != "" {
		expr, err := parseFilter(f)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "Something went wrong while processing your request. Invalid filter parameters.", nil)
			return
		}
		match = expr.eval
	}

	s.mu.Lock()
	var matched []map[string]any
	for _, rec := range s.collections[collection] {
		if match(rec) {
			matched = append(matched, clone(rec))
		}
	}
	s.mu.Unlock()

	sortRecords(matched, q.Get("sort"))

	total := len(matched)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	items := matched[start:end]
	if items == nil {
		items = []map[string]any{}
	}
	writeJSON(w, map[string]any{
		"page":       page,
		"perPage":    perPage,
		"totalItems": total,
		"totalPages": int(math.Ceil(float64(total) / float64(perPage))),
		"items":      items,
	})
}

func (s *Server) handleOne(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.Record(chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "The requested resource wasn't found.", nil)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	body, err := readBody(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to load the submitted data.", nil)
		return
	}
	delete(body, "passwordConfirm")

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, _ := body["id"].(string); id != "" {
		if rec, _ := s.findLocked(collection, id); rec != nil {
			WriteError(w, http.StatusBadRequest, "Failed to create record.", map[string]any{
				"id": map[string]string{"code": "validation_invalid_id", "message": "The model id is invalid or already exists."},
			})
			return
		}
	}
	stored := s.insertLocked(collection, body)
	writeJSON(w, clone(stored))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	body, err := readBody(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to load the submitted data.", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, _ := s.findLocked(collection, chi.URLParam(r, "id"))
	if rec == nil {
		WriteError(w, http.StatusNotFound, "The requested resource wasn't found.", nil)
		return
	}
	for k, v := range body {
		if k == "id" {
			continue
		}
		rec[k] = v
	}
	rec["updated"] = s.now().Format(pocketbase.DateTimeLayout)
	writeJSON(w, clone(rec))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, i := s.findLocked(collection, chi.URLParam(r, "id"))
	if rec == nil {
		WriteError(w, http.StatusNotFound, "The requested resource wasn't found.", nil)
		return
	}
	recs := s.collections[collection]
	s.collections[collection] = append(recs[:i:i], recs[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	var body struct {
		Identity string `json:"identity"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to authenticate.", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.collections[collection] {
		if rec["email"] == body.Identity && rec["password"] == body.Password {
			out := clone(rec)
			delete(out, "password")
			writeJSON(w, map[string]any{"token": "token-" + out["id"].(string), "record": out})
			return
		}
	}
	WriteError(w, http.StatusBadRequest, "Failed to authenticate.", nil)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := strings.TrimPrefix(r.Header.Get("Authorization"), "token-")
	rec, ok := s.Record(collection, id)
	if !ok || id == "" {
		WriteError(w, http.StatusUnauthorized, "The request requires valid record authorization token.", nil)
		return
	}
	delete(rec, "password")
	writeJSON(w, map[string]any{"token": "token-" + id, "record": rec})
}

func readBody(r *http.Request) (map[string]any, error) {
	body := map[string]any{}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, err
		}
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				body[k] = v[0]
			}
		}
		for k, fs := range r.MultipartForm.File {
			if len(fs) > 0 {
				body[k] = fs[0].Filename
			}
		}
		return body, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		return nil, err
	}
	return body, nil
}

func sortRecords(recs []map[string]any, spec string) {
	if spec == "" {
		return
	}
	keys := strings.Split(spec, ",")
	sort.SliceStable(recs, func(i, j int) bool {
		for _, k := range keys {
			k = strings.TrimSpace(k)
			desc := strings.HasPrefix(k, "-")
			k = strings.TrimLeft(k, "-+")
			c := compareValues(recs[i][k], recs[j][k])
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func atoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return def
}

func clone(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
