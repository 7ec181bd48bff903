// Package testutil provides testing utilities for the cinema registry scanner.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the scripted behavior for one identifier.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string

	// Delay is slept before answering, to exercise client timeouts.
	Delay time.Duration

	// Hijack drops the connection without writing a response,
	// simulating a transport-level failure.
	Hijack bool
}

// MockRegistry is a configurable stand-in for the endata lookup endpoint.
// It answers the single POST the scanner issues, keyed by the cinemaid
// form field.
type MockRegistry struct {
	server *httptest.Server

	mu        sync.RWMutex
	responses map[int64]MockResponse

	// Tracking
	requests      map[int64]int
	totalRequests int
	lastHeader    http.Header
}

// NewMockRegistry creates a mock registry server.
func NewMockRegistry() *MockRegistry {
	mock := &MockRegistry{
		responses: make(map[int64]MockResponse),
		requests:  make(map[int64]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		id, err := strconv.ParseInt(r.FormValue("cinemaid"), 10, 64)
		if err != nil {
			http.Error(w, "bad cinemaid", http.StatusBadRequest)
			return
		}

		mock.mu.Lock()
		mock.totalRequests++
		mock.requests[id]++
		mock.lastHeader = r.Header.Clone()
		resp, scripted := mock.responses[id]
		mock.mu.Unlock()

		if !scripted {
			// Unknown identifiers get a clean no-record answer.
			mock.writeJSON(w, http.StatusOK, NoRecordEnvelope())
			return
		}

		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		if resp.Hijack {
			hj, ok := w.(http.Hijacker)
			if !ok {
				panic("testutil: response writer does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				panic(fmt.Sprintf("testutil: hijack failed: %v", err))
			}
			conn.Close()
			return
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		mock.writeJSON(w, resp.StatusCode, resp.Body)
	}))

	return mock
}

func (m *MockRegistry) writeJSON(w http.ResponseWriter, status int, body string) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(status)
	if body != "" {
		w.Write([]byte(body))
	}
}

// URL returns the mock server URL.
func (m *MockRegistry) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRegistry) Close() {
	m.server.Close()
}

// Reset clears all scripted responses and tracking counters.
func (m *MockRegistry) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = make(map[int64]MockResponse)
	m.requests = make(map[int64]int)
	m.totalRequests = 0
	m.lastHeader = nil
}

// SetResponse scripts the response for one identifier.
func (m *MockRegistry) SetResponse(id int64, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[id] = resp
}

// SetRecord scripts a successful lookup carrying the given record JSON.
func (m *MockRegistry) SetRecord(id int64, recordJSON string) {
	m.SetResponse(id, MockResponse{
		StatusCode: http.StatusOK,
		Body:       RecordEnvelope(recordJSON),
	})
}

// SetCinema scripts a successful lookup for a minimal cinema record.
func (m *MockRegistry) SetCinema(id int64, name, code string) {
	m.SetRecord(id, CinemaRecord(id, name, code))
}

// SetDropped scripts a dropped connection, which the client observes as a
// network error.
func (m *MockRegistry) SetDropped(id int64) {
	m.SetResponse(id, MockResponse{Hijack: true})
}

// RequestCount returns how many times the given identifier was requested.
func (m *MockRegistry) RequestCount(id int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[id]
}

// TotalRequests returns the number of requests across all identifiers.
func (m *MockRegistry) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRequests
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockRegistry) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// CinemaRecord builds the wire JSON for a minimal cinema record, fields in
// the registry's usual order.
func CinemaRecord(id int64, name, code string) string {
	return fmt.Sprintf(`{"CinemaID":%d,"CinemaName":%q,"ZZID":%q}`, id, name, code)
}

// RecordEnvelope wraps record JSON in a successful response envelope.
func RecordEnvelope(recordJSON string) string {
	return fmt.Sprintf(`{"status":1,"data":{"table0":[%s]}}`, recordJSON)
}

// NoRecordEnvelope returns a successful envelope with an empty table0.
func NoRecordEnvelope() string {
	return `{"status":1,"data":{"table0":[]}}`
}

// StatusFailedEnvelope returns an envelope whose status marks failure.
func StatusFailedEnvelope() string {
	return `{"status":0,"data":{"table0":[]}}`
}

// MalformedBody returns a body that is not valid envelope JSON.
func MalformedBody() string {
	return `<html>502 Bad Gateway</html>`
}

// ServerErrorResponse returns a scripted 500 response.
func ServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"internal server error"}`,
	}
}
