// Package testutil provides a mock OECD SDMX upstream for tests.
package testutil

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
	Delay      time.Duration

	// Gzip encodes Body and sets Content-Encoding when the request accepts it.
	Gzip bool
}

// MockSDMX is a configurable mock SDMX server.
//
// Handlers are matched on the escaped request path. A path may be given a
// sequence of responses; each request consumes the next one and the last
// one repeats.
type MockSDMX struct {
	server *httptest.Server

	mu        sync.Mutex
	handlers  map[string]http.HandlerFunc
	sequences map[string][]MockResponse

	// Tracking
	requests         []string
	conditionalCount int
	lastHeader       http.Header
}

// NewMockSDMX creates a new mock server.
func NewMockSDMX() *MockSDMX {
	mock := &MockSDMX{
		handlers:  make(map[string]http.HandlerFunc),
		sequences: make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.EscapedPath()

		mock.mu.Lock()
		mock.requests = append(mock.requests, r.URL.RequestURI())
		mock.lastHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.conditionalCount++
		}
		handler, hasHandler := mock.handlers[path]
		var resp *MockResponse
		if seq := mock.sequences[path]; len(seq) > 0 {
			r := seq[0]
			resp = &r
			if len(seq) > 1 {
				mock.sequences[path] = seq[1:]
			}
		}
		mock.mu.Unlock()

		switch {
		case hasHandler:
			handler(w, r)
		case resp != nil:
			writeResponse(w, r, *resp)
		default:
			http.Error(w, "NoRecordsFound", http.StatusNotFound)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSDMX) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSDMX) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSDMX) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.conditionalCount = 0
	m.lastHeader = nil
}

// SetHandler sets a custom handler for an escaped path.
func (m *MockSDMX) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockSDMX) SetResponse(path string, resp MockResponse) {
	m.SetSequence(path, resp)
}

// SetSequence configures successive responses for a path.
func (m *MockSDMX) SetSequence(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[path] = resps
}

// Requests returns the request URIs received so far, in order.
func (m *MockSDMX) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSDMX) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockSDMX) GetConditionalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditionalCount
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockSDMX) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader.Clone()
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	body := resp.Body
	if resp.Gzip && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		body = Gzip(body)
		w.Header().Set("Content-Encoding", "gzip")
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(body)
}

// NewCSVResponse creates a 200 OK response carrying SDMX CSV.
func NewCSVResponse(csv string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(csv),
		Headers: map[string]string{
			"Content-Type": "application/vnd.sdmx.data+csv; charset=utf-8",
			"ETag":         `"csv-etag"`,
		},
		Gzip: true,
	}
}

// NewDataflowNotFoundResponse creates the 404 returned for unknown dataflow versions.
func NewDataflowNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       []byte("Dataflow OECD.DCD.FSD:DSD_DAC1@DF_DAC1 not found"),
	}
}

// NewNoRecordsFoundResponse creates the 404 returned for empty queries.
func NewNoRecordsFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       []byte("NoRecordsFound"),
	}
}

// NewNotSetToResponse creates the 500 returned by the public endpoint for
// datasets served only from dcd-public.
func NewNotSetToResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       []byte("Error: Object reference not set to an instance of an object."),
	}
}

// NewServerErrorResponse creates a plain 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       []byte("Internal server error"),
	}
}

// NewDataflowPage creates a dataflow structure page linking a bulk file.
func NewDataflowPage(searchString, fileID string) MockResponse {
	body := fmt.Sprintf(
		`<structure:Dataflow><common:Annotation><common:AnnotationTitle>%shttps://stats.oecd.org/wbos/fileview2.aspx?IDFile=%s</common:AnnotationTitle></common:Annotation></structure:Dataflow>`,
		searchString, fileID)
	return MockResponse{StatusCode: http.StatusOK, Body: []byte(body)}
}

// Gzip compresses data.
func Gzip(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(data)
	zw.Close()
	return buf.Bytes()
}

// Zip builds a zip archive from name -> content.
func Zip(files map[string][]byte) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		w.Write(data)
	}
	zw.Close()
	return buf.Bytes()
}
