// Package testutil provides an in-memory CMS server for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/cms-cache/pkg/cms"
	"github.com/Sternrassler/cms-cache/pkg/refdata"
)

// MockResponse defines a canned response for a mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockProject is one project served by MockCMS. Titles are localized;
// the X-Language header picks the variant.
type MockProject struct {
	UUID     string
	Modified string
	TitleDE  string
	TitleEN  string
}

// MockCMS is a configurable CMS server backed by an in-memory dataset.
//
// By default it serves the endpoints of cms.DefaultPaths from its dataset.
// SetHandler and SetResponse override single paths, e.g. to inject errors.
type MockCMS struct {
	server *httptest.Server
	paths  cms.Paths

	mu        sync.RWMutex
	handlers  map[string]http.HandlerFunc
	projects  map[string]MockProject
	order     []string
	locations []refdata.Location
	formats   []refdata.Format
	contexts  *refdata.RawContext

	// Tracking
	requests      map[string]int
	lastHeader    http.Header
	lastByIDQuery []string
}

// NewMockCMS starts a mock CMS with an empty dataset.
func NewMockCMS() *MockCMS {
	m := &MockCMS{
		paths:    cms.DefaultPaths(),
		handlers: make(map[string]http.HandlerFunc),
		projects: make(map[string]MockProject),
		requests: make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests[r.URL.Path]++
		m.lastHeader = r.Header.Clone()
		handler, exists := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		m.defaultHandler(w, r)
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockCMS) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCMS) Close() {
	m.server.Close()
}

// Paths returns the endpoint layout the mock serves.
func (m *MockCMS) Paths() cms.Paths {
	return m.paths
}

// Reset clears all tracking counters.
func (m *MockCMS) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.lastHeader = nil
	m.lastByIDQuery = nil
}

// SetHandler overrides the handler for a path.
func (m *MockCMS) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// ClearHandler restores the dataset-backed handler for a path.
func (m *MockCMS) ClearHandler(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, path)
}

// SetResponse configures a canned response for a path.
func (m *MockCMS) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	})
}

// PutProject adds or replaces a project.
func (m *MockCMS) PutProject(p MockProject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[p.UUID]; !exists {
		m.order = append(m.order, p.UUID)
	}
	m.projects[p.UUID] = p
}

// DeleteProject removes a project.
func (m *MockCMS) DeleteProject(uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, uuid)
	for i, id := range m.order {
		if id == uuid {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// SetReferenceData replaces locations, formats and the context tree.
func (m *MockCMS) SetReferenceData(locations []refdata.Location, formats []refdata.Format, contexts *refdata.RawContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = locations
	m.formats = formats
	m.contexts = contexts
}

// RequestCount returns the number of requests made to path.
func (m *MockCMS) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// TotalRequests returns the number of requests across all paths.
func (m *MockCMS) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

// LastHeader returns the headers of the most recent request.
func (m *MockCMS) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// LastByIDQuery returns the ids requested by the most recent by-id call.
func (m *MockCMS) LastByIDQuery() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.lastByIDQuery...)
}

// defaultHandler serves the dataset.
func (m *MockCMS) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("RateLimit-Remaining", "100")
	w.Header().Set("RateLimit-Reset", "60")

	lang := strings.ToUpper(r.Header.Get(cms.LanguageHeader))

	switch r.URL.Path {
	case m.paths.Projects:
		m.mu.RLock()
		list := m.renderLocked(m.order, lang)
		m.mu.RUnlock()
		writeJSON(w, map[string]any{"status": "ok", "result": list})

	case m.paths.Modified:
		m.mu.RLock()
		index := make([]map[string]string, 0, len(m.order))
		for _, id := range m.order {
			index = append(index, map[string]string{"uuid": id, "modified": m.projects[id].Modified})
		}
		m.mu.RUnlock()
		writeJSON(w, index)

	case m.paths.ByID:
		var ids []string
		if raw := r.URL.Query().Get("ids"); raw != "" {
			ids = strings.Split(raw, ",")
		}
		m.mu.Lock()
		m.lastByIDQuery = ids
		list := m.renderLocked(ids, lang)
		m.mu.Unlock()
		writeJSON(w, list)

	case m.paths.Locations:
		m.mu.RLock()
		defer m.mu.RUnlock()
		writeJSON(w, orEmpty(m.locations))

	case m.paths.Formats:
		m.mu.RLock()
		defer m.mu.RUnlock()
		writeJSON(w, orEmpty(m.formats))

	case m.paths.Contexts:
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.contexts == nil {
			writeJSON(w, refdata.RawContext{})
			return
		}
		writeJSON(w, m.contexts)

	default:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "not found"}`))
	}
}

// renderLocked renders the projects for ids in lang, skipping unknown ids.
func (m *MockCMS) renderLocked(ids []string, lang string) []map[string]string {
	out := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		p, ok := m.projects[id]
		if !ok {
			continue
		}
		title := p.TitleEN
		if lang == "DE" {
			title = p.TitleDE
		}
		out = append(out, map[string]string{
			"uuid":     p.UUID,
			"modified": p.Modified,
			"title":    title,
		})
	}
	return out
}

// ProjectIDs returns the ids of the dataset in sorted order.
func (m *MockCMS) ProjectIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := append([]string(nil), m.order...)
	sort.Strings(ids)
	return ids
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":         retryAfter,
			"RateLimit-Remaining": "0",
			"Content-Type":        "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewHealthyResponse creates a 200 OK response with the given JSON body.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"RateLimit-Remaining": "100",
			"RateLimit-Reset":     "60",
			"Content-Type":        "application/json; charset=utf-8",
		},
	}
}
