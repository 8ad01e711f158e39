// Package testutil provides a configurable in-process mock of the
// Notion API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockNotion is an httptest-backed Notion API double. Objects are
// registered by dashed id; the children and query endpoints paginate
// with real cursors so pagination handling is exercised.
type MockNotion struct {
	Server *httptest.Server

	// ValidKey, when non-empty, is the only accepted bearer token.
	ValidKey string

	// RetryAfter, when positive, is sent as a Retry-After header on
	// injected 429 responses.
	RetryAfter time.Duration

	mu          sync.Mutex
	pages       map[string]json.RawMessage
	databases   map[string]json.RawMessage
	blocks      map[string]json.RawMessage
	children    map[string][]json.RawMessage
	rows        map[string][]json.RawMessage
	failures    map[string][]int
	counts      map[string]int
	total       int
	inFlight    int
	maxInFlight int
}

// NewMockNotion starts a mock server. The server is shut down with the
// test.
func NewMockNotion(t *testing.T) *MockNotion {
	t.Helper()

	m := &MockNotion{
		pages:     make(map[string]json.RawMessage),
		databases: make(map[string]json.RawMessage),
		blocks:    make(map[string]json.RawMessage),
		children:  make(map[string][]json.RawMessage),
		rows:      make(map[string][]json.RawMessage),
		failures:  make(map[string][]int),
		counts:    make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Server.Close)
	return m
}

// URL returns the mock API base URL including the /v1 prefix.
func (m *MockNotion) URL() string { return m.Server.URL + "/v1" }

// AddPage registers a page object.
func (m *MockNotion) AddPage(id string, body json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[id] = body
}

// AddDatabase registers a database object.
func (m *MockNotion) AddDatabase(id string, body json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.databases[id] = body
}

// AddBlock registers a standalone block object.
func (m *MockNotion) AddBlock(id string, body json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[id] = body
}

// SetChildren registers the child blocks listed under a page or block.
func (m *MockNotion) SetChildren(parentID string, blocks ...json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[parentID] = blocks
}

// SetRows registers the pages returned by querying a database.
func (m *MockNotion) SetRows(databaseID string, pages ...json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[databaseID] = pages
}

// FailNext queues HTTP status codes returned by the given path before
// it starts succeeding. Path is matched on the request path without the
// /v1 prefix, e.g. "pages/<dashed-id>".
func (m *MockNotion) FailNext(path string, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = append(m.failures[path], statuses...)
}

// Requests reports the total number of requests served.
func (m *MockNotion) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// RequestsFor reports how many requests hit the given path (without the
// /v1 prefix, query string excluded).
func (m *MockNotion) RequestsFor(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[path]
}

// MaxInFlight reports the highest number of concurrently served
// requests observed.
func (m *MockNotion) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func (m *MockNotion) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/")

	m.mu.Lock()
	m.total++
	m.counts[path]++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	var injected int
	if queue := m.failures[path]; len(queue) > 0 {
		injected = queue[0]
		m.failures[path] = queue[1:]
	}
	validKey := m.ValidKey
	retryAfter := m.RetryAfter
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	// A little latency so concurrent fetches actually overlap.
	time.Sleep(2 * time.Millisecond)

	if validKey != "" && r.Header.Get("Authorization") != "Bearer "+validKey {
		writeError(w, http.StatusUnauthorized, "unauthorized", "API token is invalid.")
		return
	}

	if injected != 0 {
		if injected == http.StatusTooManyRequests && retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.FormatFloat(retryAfter.Seconds(), 'f', -1, 64))
		}
		writeError(w, injected, "injected_failure", "injected failure")
		return
	}

	parts := strings.Split(path, "/")
	switch {
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "pages":
		m.serveObject(w, m.pages, parts[1])
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "databases":
		m.serveObject(w, m.databases, parts[1])
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "blocks":
		m.serveObject(w, m.blocks, parts[1])
	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "blocks" && parts[2] == "children":
		m.serveList(w, m.children, parts[1], pageSizeOf(r.URL.Query().Get("page_size")), r.URL.Query().Get("start_cursor"))
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "databases" && parts[2] == "query":
		var body struct {
			PageSize    int    `json:"page_size"`
			StartCursor string `json:"start_cursor"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.serveList(w, m.rows, parts[1], pageSizeOf(strconv.Itoa(body.PageSize)), body.StartCursor)
	default:
		writeError(w, http.StatusNotFound, "object_not_found", "Could not find route "+r.URL.Path)
	}
}

func (m *MockNotion) serveObject(w http.ResponseWriter, objects map[string]json.RawMessage, id string) {
	m.mu.Lock()
	body, ok := objects[id]
	m.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "object_not_found", "Could not find object with ID: "+id)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (m *MockNotion) serveList(w http.ResponseWriter, lists map[string][]json.RawMessage, id string, pageSize int, cursor string) {
	m.mu.Lock()
	items, ok := lists[id]
	m.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "object_not_found", "Could not find object with ID: "+id)
		return
	}

	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(strings.TrimPrefix(cursor, "cursor-"))
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	resp := map[string]any{
		"object":      "list",
		"results":     items[start:end],
		"has_more":    end < len(items),
		"next_cursor": nil,
	}
	if end < len(items) {
		resp["next_cursor"] = fmt.Sprintf("cursor-%d", end)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func pageSizeOf(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 100 {
		return 100
	}
	return n
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"object":  "error",
		"status":  status,
		"code":    code,
		"message": message,
	})
}
