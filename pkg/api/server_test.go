package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vjranagit/tempomatch/pkg/service"
	"github.com/vjranagit/tempomatch/pkg/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := storage.NewStorage(&storage.Config{InMemory: true, CompressionLevel: 1}, nil)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := service.NewResultCache(16)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(cache.Close)

	srv := NewServer(":0", 0, service.New(store, service.WithCache(cache)), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const writePayload = `{"series": [
  {"name": "reference", "samples": [
    {"timestamp": "2007-01-01T00:00:00", "value": 0},
    {"timestamp": "2007-01-02T00:00:00", "value": 1},
    {"timestamp": "2007-01-03T00:00:00", "value": null},
    {"timestamp": "2007-01-04T00:00:00", "value": 3}
  ]},
  {"name": "satellite", "samples": [
    {"timestamp": "2007-01-01T09:00:00", "value": 10},
    {"timestamp": "2007-01-02T09:00:00", "value": 11},
    {"timestamp": "2007-01-03T09:00:00", "value": 12}
  ]}
]}`

func TestWriteAndQuery(t *testing.T) {
	ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/write", writePayload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	qr, err := http.Get(ts.URL + "/api/v1/query?query=reference&start=2007-01-02")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer qr.Body.Close()
	if qr.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", qr.StatusCode)
	}

	var body struct {
		Series []querySeries `json:"series"`
	}
	if err := json.NewDecoder(qr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Series) != 1 {
		t.Fatalf("Expected 1 series, got %d", len(body.Series))
	}
	got := body.Series[0]
	if !got.Naive || len(got.Samples) != 3 {
		t.Fatalf("Unexpected series: %+v", got)
	}
	if got.Samples[0].Timestamp != "2007-01-02T00:00:00" {
		t.Errorf("Expected naive timestamp, got %s", got.Samples[0].Timestamp)
	}
	if got.Samples[1].Value != nil {
		t.Errorf("Expected null for NaN, got %v", *got.Samples[1].Value)
	}
}

func TestMatchEndpoint(t *testing.T) {
	ts := newTestServer(t)
	post(t, ts.URL+"/api/v1/write", writePayload)

	resp := post(t, ts.URL+"/api/v1/match",
		`{"anchor": "reference", "others": ["satellite"], "return_distance": true, "duplicate_nan": true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var body matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Results) != 1 || body.Joined != nil {
		t.Fatalf("Expected one result, got %+v", body)
	}

	rows := body.Results[0].Rows
	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(rows))
	}
	for i, want := range []float64{10, 11, 12} {
		if rows[i].Value == nil || *rows[i].Value != want {
			t.Errorf("Row %d: expected %v, got %v", i, want, rows[i].Value)
		}
		if rows[i].Distance == nil || *rows[i].Distance != 0.375 {
			t.Errorf("Row %d: expected distance 0.375, got %v", i, rows[i].Distance)
		}
	}
	if rows[0].Time != "2007-01-01T00:00:00" || rows[0].MatchedTime != "2007-01-01T09:00:00" {
		t.Errorf("Expected naive timestamps without offset, got %s and %s", rows[0].Time, rows[0].MatchedTime)
	}
	if rows[2].AnchorValue != nil {
		t.Error("Expected null anchor value for NaN")
	}
	// last anchor loses satellite[2] to the closer third anchor
	if rows[3].Value != nil || rows[3].MatchedTime != "" || rows[3].Distance != nil {
		t.Errorf("Expected invalid last row, got %+v", rows[3])
	}
}

func TestMatchEndpointJoin(t *testing.T) {
	ts := newTestServer(t)
	post(t, ts.URL+"/api/v1/write", writePayload)

	resp := post(t, ts.URL+"/api/v1/match",
		`{"anchor": "reference", "others": ["satellite"], "join": true, "window": "12h"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var body matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Joined == nil {
		t.Fatal("Expected joined table")
	}
	if len(body.Joined.Rows) != 2 {
		t.Fatalf("Expected 2 joined rows, got %d", len(body.Joined.Rows))
	}
	if body.Joined.Columns[0] != "satellite" || body.Joined.Rows[1].Values[0] != 11 {
		t.Errorf("Unexpected joined table: %+v", body.Joined)
	}
	if body.Joined.Rows[0].Time != "2007-01-01T00:00:00" {
		t.Errorf("Expected naive joined timestamp, got %s", body.Joined.Rows[0].Time)
	}
	if body.Joined.Rows[0].Distances != nil {
		t.Error("Expected no distances without return_distance")
	}
}

func TestMatchEndpointErrors(t *testing.T) {
	ts := newTestServer(t)
	post(t, ts.URL+"/api/v1/write", writePayload)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"missing others", `{"anchor": "reference"}`, http.StatusBadRequest},
		{"bad window", `{"anchor": "reference", "others": ["satellite"], "window": "soon"}`, http.StatusBadRequest},
		{"negative window", `{"anchor": "reference", "others": ["satellite"], "window": "-1h"}`, http.StatusBadRequest},
		{"bad asym", `{"anchor": "reference", "others": ["satellite"], "window": "1h", "asym": "<>"}`, http.StatusBadRequest},
		{"unknown series", `{"anchor": "reference", "others": ["missing"]}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/api/v1/match", tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestWriteRejectsZoneConflict(t *testing.T) {
	ts := newTestServer(t)
	post(t, ts.URL+"/api/v1/write", writePayload)

	zoned := `{"series": [{"name": "reference", "samples": [{"timestamp": "2007-01-05T00:00:00Z", "value": 4}]}]}`
	resp := post(t, ts.URL+"/api/v1/write", zoned)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}

	mixed := `{"series": [{"name": "x", "samples": [
	  {"timestamp": "2007-01-05T00:00:00Z", "value": 4},
	  {"timestamp": "2007-01-06T00:00:00", "value": 5}]}]}`
	resp = post(t, ts.URL+"/api/v1/write", mixed)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	post(t, ts.URL+"/api/v1/write", writePayload)
	post(t, ts.URL+"/api/v1/match", `{"anchor": "reference", "others": ["satellite"]}`)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Metrics failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	for _, want := range []string{
		"tempomatch_matches_total 1",
		"tempomatch_writes_total 1",
		"tempomatch_series 2",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %q in metrics output:\n%s", want, buf.String())
		}
	}
}
