package types

import (
	"time"
)

// Sample represents a single time-series sample. Value may be NaN.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Metric identifies a stored series
type Metric struct {
	Name   string
	Labels map[string]string
}

// Series represents a complete time-series.
// Naive marks samples whose wall-clock timestamps carry no zone; they are
// read as UTC wall clock and never mixed with zoned series.
type Series struct {
	Metric  Metric
	Samples []Sample
	Naive   bool
}

// Len returns the number of samples
func (s Series) Len() int {
	return len(s.Samples)
}

// WriteRequest represents a write request to the storage engine
type WriteRequest struct {
	TenantID string
	Series   []Series
}

// QueryRequest represents a query request
type QueryRequest struct {
	TenantID  string
	Query     string
	StartTime time.Time
	EndTime   time.Time
}

// QueryResult represents query results
type QueryResult struct {
	Series []Series
	Error  error
}

// MatchRequest asks for one anchor series to be aligned with one or more
// other series over a time range.
type MatchRequest struct {
	TenantID  string
	Anchor    string
	Others    []string
	StartTime time.Time
	EndTime   time.Time

	Window         time.Duration
	Asymmetry      string
	ReturnDistance bool
	DuplicateNaN   bool
	Join           bool
}

// WallClockUTC reads the wall clock of t as a UTC time, dropping its zone
func WallClockUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Normalized returns a copy of s on the UTC timeline. Zoned timestamps are
// converted, naive ones keep their wall clock.
func (s Series) Normalized() Series {
	out := s
	out.Samples = make([]Sample, len(s.Samples))
	for i, sample := range s.Samples {
		if s.Naive {
			sample.Timestamp = WallClockUTC(sample.Timestamp)
		} else {
			sample.Timestamp = sample.Timestamp.UTC()
		}
		out.Samples[i] = sample
	}
	return out
}
