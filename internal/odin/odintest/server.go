// Package odintest provides an in-process odin-control server for tests.
package odintest

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/odin"
)

const DefaultAPIPrefix = "api/0.1"

// Server serves adapter trees the way odin-control does: GET returns the
// plain or metadata representation of a path, PUT updates a leaf value.
type Server struct {
	*httptest.Server
	APIPrefix string

	mu       sync.Mutex
	adapters map[string]map[string]any
	raw      map[string]map[string]any
	failing  map[string]bool
	rejects  map[string]string
	gets     map[string]int
	puts     map[string][]any
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		APIPrefix: DefaultAPIPrefix,
		adapters:  make(map[string]map[string]any),
		raw:       make(map[string]map[string]any),
		failing:   make(map[string]bool),
		rejects:   make(map[string]string),
		gets:      make(map[string]int),
		puts:      make(map[string][]any),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// AddAdapter registers an adapter with a metadata tree given as JSON.
func (s *Server) AddAdapter(t testing.TB, name, treeJSON string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[name] = MustDecode(t, treeJSON)
}

// SetRaw serves a fixed JSON object for GET requests on path, relative
// to the API prefix.
func (s *Server) SetRaw(t testing.TB, path, bodyJSON string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[path] = MustDecode(t, bodyJSON)
}

// Fail makes every request on path, relative to the API prefix, answer 503.
func (s *Server) Fail(path string, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[path] = failing
}

// Reject makes PUT requests on path answer with an error field.
func (s *Server) Reject(path, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[path] = message
}

// SetValue changes a leaf value behind the bridge's back.
func (s *Server) SetValue(path string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	leaf, ok := s.lookupLocked(strings.Split(path, "/")).(map[string]any)
	if !ok {
		return false
	}
	leaf["value"] = value
	return true
}

// Value returns the current value of a leaf.
func (s *Server) Value(path string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if leaf, ok := s.lookupLocked(strings.Split(path, "/")).(map[string]any); ok {
		return leaf["value"]
	}
	return nil
}

// Gets counts GET requests on path, failed ones included.
func (s *Server) Gets(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[path]
}

func (s *Server) Puts(path string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.puts[path]...)
}

// Connection returns an unopened connection to the server.
func (s *Server) Connection() *odin.Connection {
	host, portStr, _ := net.SplitHostPort(strings.TrimPrefix(s.URL, "http://"))
	port, _ := strconv.Atoi(portStr)
	return odin.NewConnection(host, port, 2*time.Second)
}

// OpenConnection returns an opened connection that is closed on cleanup.
func (s *Server) OpenConnection(t testing.TB) *odin.Connection {
	t.Helper()
	conn := s.Connection()
	if err := conn.Open(); err != nil {
		t.Fatalf("open connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/"+s.APIPrefix), "/")

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method == http.MethodGet {
		s.gets[path]++
	}

	if s.failing[path] {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "unavailable"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r, path)
	case http.MethodPut:
		s.handlePut(w, r, path)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, path string) {
	if body, ok := s.raw[path]; ok {
		writeJSON(w, http.StatusOK, body)
		return
	}

	if path == "adapters" {
		names := make([]string, 0, len(s.adapters))
		for name := range s.adapters {
			names = append(names, name)
		}
		sort.Strings(names)
		writeJSON(w, http.StatusOK, map[string]any{"adapters": names})
		return
	}

	segments := strings.Split(path, "/")
	node := s.lookupLocked(segments)
	if node == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Invalid path: " + path})
		return
	}

	metadata := strings.Contains(r.Header.Get("Accept"), "metadata=true")
	if !metadata {
		node = stripMetadata(node)
	}

	if len(segments) == 1 {
		writeJSON(w, http.StatusOK, node)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{segments[len(segments)-1]: node})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, path string) {
	s.puts[path] = append(s.puts[path], nil)

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Failed to decode PUT request body"})
		return
	}
	s.puts[path][len(s.puts[path])-1] = value

	if msg, ok := s.rejects[path]; ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
		return
	}

	leaf, ok := s.lookupLocked(strings.Split(path, "/")).(map[string]any)
	if !ok || !isMetadata(leaf) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid path: " + path})
		return
	}
	if writeable, _ := leaf["writeable"].(bool); !writeable {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Parameter " + path + " is read-only"})
		return
	}

	leaf["value"] = value
	writeJSON(w, http.StatusOK, map[string]any{"value": value})
}

func (s *Server) lookupLocked(segments []string) any {
	if len(segments) == 0 {
		return nil
	}
	tree, ok := s.adapters[segments[0]]
	if !ok {
		return nil
	}
	var node any = tree
	for _, segment := range segments[1:] {
		m, ok := node.(map[string]any)
		if !ok || isMetadata(m) {
			return nil
		}
		if node, ok = m[segment]; !ok {
			return nil
		}
	}
	return node
}

func isMetadata(m map[string]any) bool {
	_, w := m["writeable"]
	_, t := m["type"]
	return w && t
}

func stripMetadata(node any) any {
	switch v := node.(type) {
	case map[string]any:
		if isMetadata(v) {
			return v["value"]
		}
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = stripMetadata(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = stripMetadata(child)
		}
		return out
	default:
		return v
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// MustDecode decodes a JSON object the way odin.Connection does.
func MustDecode(t testing.TB, raw string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewBufferString(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return out
}
