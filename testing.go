package connectsdk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prusa3d/connect-sdk-go/internal/interfaces"
)

// MockHttpTransport is a scripted interfaces.HttpTransport for tests:
// each call to Do consumes the next queued response (or the last one,
// repeated, once the queue is drained) and records the request for
// later inspection. Same call-tracking-plus-canned-response shape as
// the teacher's MockBackend tracking call counts and returning
// deterministic data.
type MockHttpTransport struct {
	mu        sync.Mutex
	responses []*http.Response
	requests  []*http.Request
}

// NewMockHttpTransport creates a transport that returns responses in
// order as Do is called.
func NewMockHttpTransport(responses ...*http.Response) *MockHttpTransport {
	return &MockHttpTransport{responses: responses}
}

// Do implements interfaces.HttpTransport.
func (m *MockHttpTransport) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if len(m.responses) == 0 {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

// Requests returns every request Do has seen, in order.
func (m *MockHttpTransport) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*http.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// JSONResponse builds an *http.Response with the given status and a
// JSON body, for use as one of MockHttpTransport's canned responses.
func JSONResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

var _ interfaces.HttpTransport = (*MockHttpTransport)(nil)

// MockStorageBackend is an in-memory interfaces.StorageBackend for
// tests that don't need real filesystem durability, tracking call
// counts the same way the teacher's MockBackend tracks
// read/write/flush/sync calls.
type MockStorageBackend struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool

	readCalls  int
	writeCalls int
}

// NewMockStorageBackend creates an empty in-memory backend.
func NewMockStorageBackend() *MockStorageBackend {
	return &MockStorageBackend{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"": true},
	}
}

// OpenRead implements interfaces.StorageBackend.
func (m *MockStorageBackend) OpenRead(path string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.readCalls++
	data, ok := m.files[path]
	m.mu.Unlock()
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type mockWriteCloser struct {
	backend *MockStorageBackend
	path    string
	buf     bytes.Buffer
}

func (w *mockWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *mockWriteCloser) Close() error {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	w.backend.files[w.path] = w.buf.Bytes()
	return nil
}

// OpenWrite implements interfaces.StorageBackend.
func (m *MockStorageBackend) OpenWrite(path string) (io.WriteCloser, error) {
	m.mu.Lock()
	m.writeCalls++
	m.mu.Unlock()
	return &mockWriteCloser{backend: m, path: path}, nil
}

type mockFileInfo struct {
	name  string
	size  int64
	isDir bool
}

func (i mockFileInfo) Name() string       { return i.name }
func (i mockFileInfo) Size() int64        { return i.size }
func (i mockFileInfo) Mode() os.FileMode  { return 0o644 }
func (i mockFileInfo) ModTime() time.Time { return time.Time{} }
func (i mockFileInfo) IsDir() bool        { return i.isDir }
func (i mockFileInfo) Sys() any           { return nil }

// Stat implements interfaces.StorageBackend.
func (m *MockStorageBackend) Stat(path string) (os.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dirs[path] {
		return mockFileInfo{name: path, isDir: true}, nil
	}
	data, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return mockFileInfo{name: path, size: int64(len(data))}, nil
}

// Unlink implements interfaces.StorageBackend.
func (m *MockStorageBackend) Unlink(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	delete(m.dirs, path)
	return nil
}

// Mkdir implements interfaces.StorageBackend.
func (m *MockStorageBackend) Mkdir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = true
	return nil
}

// Listdir implements interfaces.StorageBackend.
func (m *MockStorageBackend) Listdir(path string) ([]os.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := path
	if prefix != "" {
		prefix += "/"
	}
	var out []os.FileInfo
	for p, data := range m.files {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix && !containsSlash(p[len(prefix):]) {
			out = append(out, mockFileInfo{name: p[len(prefix):], size: int64(len(data))})
		}
	}
	for d := range m.dirs {
		if d != "" && len(d) > len(prefix) && d[:len(prefix)] == prefix && !containsSlash(d[len(prefix):]) {
			out = append(out, mockFileInfo{name: d[len(prefix):], isDir: true})
		}
	}
	return out, nil
}

func containsSlash(s string) bool {
	for _, c := range s {
		if c == '/' {
			return true
		}
	}
	return false
}

// Statvfs implements interfaces.StorageBackend with a fixed 1GB/4GB
// free/total pair, adequate for tests that only assert plumbing.
func (m *MockStorageBackend) Statvfs(path string) (free, total uint64, err error) {
	return 1 << 30, 4 << 30, nil
}

// CallCounts returns read/write call counts for assertions, same
// introspection purpose as the teacher's MockBackend.CallCounts.
func (m *MockStorageBackend) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{"read": m.readCalls, "write": m.writeCalls}
}

var _ interfaces.StorageBackend = (*MockStorageBackend)(nil)

// MockMetadataExtractor returns a fixed metadata map for every path,
// or an error if Err is set, tracking call count.
type MockMetadataExtractor struct {
	mu    sync.Mutex
	Data  map[string]any
	Err   error
	calls int
}

// Extract implements interfaces.MetadataExtractor.
func (m *MockMetadataExtractor) Extract(_ context.Context, path string) (map[string]any, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return nil, fmt.Errorf("mock extractor: %w", m.Err)
	}
	return m.Data, nil
}

// Calls returns how many times Extract has been called.
func (m *MockMetadataExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ interfaces.MetadataExtractor = (*MockMetadataExtractor)(nil)
