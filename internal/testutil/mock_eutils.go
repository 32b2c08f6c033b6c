// Package testutil provides testing utilities for geo-enrich.
package testutil

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Endpoint names used for call tracking and failure injection.
const (
	EndpointElink    = "elink"
	EndpointESummary = "esummary"
	EndpointAcc      = "acc"
)

// RateLimitPayload is the body eutils sends when the API key quota is exceeded.
const RateLimitPayload = `{"error":"API rate limit exceeded","api-key":"test","count":"11","limit":"10"}`

// MockSummary is the esummary document served for a dataset index.
type MockSummary struct {
	Title     string
	Summary   string
	Taxon     string
	GDSType   string
	Accession string
}

// MockFailure describes an injected failure. Remaining < 0 fails forever.
type MockFailure struct {
	Remaining  int
	StatusCode int
	Body       string
}

// MockEutils is a configurable mock of elink.fcgi, esummary.fcgi and acc.cgi.
// Both the eutils base URL and the GEO URL of a client can point at it.
type MockEutils struct {
	server *httptest.Server
	mu     sync.Mutex

	links     map[int][]int
	summaries map[int]MockSummary
	designs   map[string]*string
	failures  map[string]*MockFailure
	handlers  map[string]http.HandlerFunc
	delay     time.Duration

	calls        map[string]int
	requestCount int
	inFlight     int
	peakInFlight int
	lastQuery    url.Values
}

// NewMockEutils creates and starts a new mock server.
func NewMockEutils() *MockEutils {
	m := &MockEutils{
		links:     make(map[int][]int),
		summaries: make(map[int]MockSummary),
		designs:   make(map[string]*string),
		failures:  make(map[string]*MockFailure),
		handlers:  make(map[string]http.HandlerFunc),
		calls:     make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the mock server URL.
func (m *MockEutils) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockEutils) Close() {
	m.server.Close()
}

// SetLinks configures the dataset indices linked to a publication identifier.
func (m *MockEutils) SetLinks(id int, indices ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[id] = indices
}

// SetSummary configures the esummary document for a dataset index.
func (m *MockEutils) SetSummary(idx int, s MockSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[idx] = s
}

// SetDesign configures the Overall-Design of a series accession.
func (m *MockEutils) SetDesign(accession, design string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.designs[accession] = &design
}

// SetSeriesWithoutDesign serves a MINiML document that has no Overall-Design element.
func (m *MockEutils) SetSeriesWithoutDesign(accession string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.designs[accession] = nil
}

// Fail injects a failure for endpoint and key (identifier, index or accession).
func (m *MockEutils) Fail(endpoint, key string, f MockFailure) {
	if f.StatusCode == 0 {
		f.StatusCode = http.StatusServiceUnavailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[endpoint+":"+key] = &f
}

// FailTimes makes the next n requests for endpoint and key return 503.
func (m *MockEutils) FailTimes(endpoint, key string, n int) {
	m.Fail(endpoint, key, MockFailure{Remaining: n})
}

// FailAlways makes every request for endpoint and key return status.
func (m *MockEutils) FailAlways(endpoint, key string, status int) {
	m.Fail(endpoint, key, MockFailure{Remaining: -1, StatusCode: status})
}

// SetDelay adds latency to every response.
func (m *MockEutils) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetHandler overrides the handler for one endpoint.
func (m *MockEutils) SetHandler(endpoint string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[endpoint] = h
}

// Calls returns how many requests reached endpoint for key.
func (m *MockEutils) Calls(endpoint, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[endpoint+":"+key]
}

// EndpointCalls returns how many requests reached endpoint.
func (m *MockEutils) EndpointCalls(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for k, n := range m.calls {
		if strings.HasPrefix(k, endpoint+":") {
			total += n
		}
	}
	return total
}

// RequestCount returns the number of requests made to the server.
func (m *MockEutils) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// PeakInFlight returns the highest number of concurrently served requests.
func (m *MockEutils) PeakInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakInFlight
}

// LastQuery returns the query of the most recent request.
func (m *MockEutils) LastQuery() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery
}

func (m *MockEutils) serve(w http.ResponseWriter, r *http.Request) {
	var endpoint, key string
	q := r.URL.Query()
	switch {
	case strings.HasSuffix(r.URL.Path, "/elink.fcgi"):
		endpoint, key = EndpointElink, q.Get("id")
	case strings.HasSuffix(r.URL.Path, "/esummary.fcgi"):
		endpoint, key = EndpointESummary, q.Get("id")
	case strings.HasSuffix(r.URL.Path, "/acc.cgi"):
		endpoint, key = EndpointAcc, q.Get("acc")
	default:
		http.NotFound(w, r)
		return
	}

	m.mu.Lock()
	m.requestCount++
	m.calls[endpoint+":"+key]++
	m.lastQuery = q
	m.inFlight++
	if m.inFlight > m.peakInFlight {
		m.peakInFlight = m.inFlight
	}
	delay := m.delay
	handler := m.handlers[endpoint]
	var failure *MockFailure
	if f, ok := m.failures[endpoint+":"+key]; ok && f.Remaining != 0 {
		copied := *f
		failure = &copied
		if f.Remaining > 0 {
			f.Remaining--
		}
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}

	if failure != nil {
		w.WriteHeader(failure.StatusCode)
		if failure.Body != "" {
			w.Write([]byte(failure.Body))
		}
		return
	}

	if handler != nil {
		handler(w, r)
		return
	}

	switch endpoint {
	case EndpointElink:
		m.serveElink(w, key)
	case EndpointESummary:
		m.serveESummary(w, key)
	case EndpointAcc:
		m.serveAcc(w, key)
	}
}

func (m *MockEutils) serveElink(w http.ResponseWriter, key string) {
	id, _ := strconv.Atoi(key)

	m.mu.Lock()
	indices, ok := m.links[id]
	m.mu.Unlock()

	linkset := map[string]any{"dbfrom": "pubmed", "ids": []string{key}}
	if ok && len(indices) > 0 {
		links := make([]string, len(indices))
		for i, idx := range indices {
			links[i] = strconv.Itoa(idx)
		}
		linkset["linksetdbs"] = []map[string]any{{
			"dbto":     "gds",
			"linkname": "pubmed_gds",
			"links":    links,
		}}
	}

	writeJSON(w, map[string]any{
		"header":   map[string]string{"type": "elink", "version": "0.3"},
		"linksets": []any{linkset},
	})
}

func (m *MockEutils) serveESummary(w http.ResponseWriter, key string) {
	idx, _ := strconv.Atoi(key)

	m.mu.Lock()
	s, ok := m.summaries[idx]
	m.mu.Unlock()

	doc := map[string]any{"uid": key}
	if ok {
		doc["title"] = s.Title
		doc["summary"] = s.Summary
		doc["taxon"] = s.Taxon
		doc["gdstype"] = s.GDSType
		doc["accession"] = s.Accession
	} else {
		doc["error"] = "cannot get document summary"
	}

	writeJSON(w, map[string]any{
		"header": map[string]string{"type": "esummary", "version": "0.3"},
		"result": map[string]any{
			"uids": []string{key},
			key:    doc,
		},
	})
}

func (m *MockEutils) serveAcc(w http.ResponseWriter, key string) {
	m.mu.Lock()
	design, ok := m.designs[key]
	m.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><body>Could not find a public or private accession %q</body></html>", key)
		return
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<MINiML xmlns="http://www.ncbi.nlm.nih.gov/geo/info/MINiML" version="0.5.0">` + "\n")
	fmt.Fprintf(&b, `  <Series iid="%s">`+"\n", key)
	b.WriteString("    <Title>mock series</Title>\n")
	if design != nil {
		b.WriteString("    <Overall-Design>")
		xml.EscapeText(&b, []byte(*design))
		b.WriteString("</Overall-Design>\n")
	}
	b.WriteString("  </Series>\n</MINiML>\n")

	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(b.String()))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}
