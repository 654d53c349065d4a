package matching

import (
	"math"
	"time"
)

// Match is one output row, keyed by the anchor timestamp
type Match struct {
	Time        time.Time // anchor timestamp, UTC
	AnchorValue float64

	Valid       bool
	Index       int       // index into the other series, -1 when invalid
	MatchedTime time.Time // zero when invalid
	Value       float64   // NaN when invalid
	Offset      time.Duration
	Distance    float64 // Offset in days, NaN when invalid
}

func (m *Match) invalidate() {
	m.Valid = false
	m.Index = -1
	m.MatchedTime = time.Time{}
	m.Value = math.NaN()
	m.Offset = 0
	m.Distance = math.NaN()
}

// Result holds the matches of one anchor series against one other series.
// Naive is carried over from the anchor series.
type Result struct {
	Anchor      string
	Other       string
	Rows        []Match
	HasDistance bool
	Naive       bool
}

// Len returns the number of rows
func (r *Result) Len() int {
	return len(r.Rows)
}

// Values returns the matched value column
func (r *Result) Values() []float64 {
	out := make([]float64, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.Value
	}
	return out
}

// Distances returns the dist_other column in days
func (r *Result) Distances() []float64 {
	out := make([]float64, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.Distance
	}
	return out
}

// JoinedRow is a row that matched every other series
type JoinedRow struct {
	Time        time.Time
	AnchorValue float64
	Values      []float64 // one per column
	Distances   []float64 // one per column, days
}

// Joined is the inner join of an anchor series with several other series
type Joined struct {
	Anchor      string
	Columns     []string
	Rows        []JoinedRow
	HasDistance bool
	Naive       bool
}

// Len returns the number of rows
func (j *Joined) Len() int {
	return len(j.Rows)
}

// AnchorValues returns the anchor column
func (j *Joined) AnchorValues() []float64 {
	out := make([]float64, len(j.Rows))
	for i, row := range j.Rows {
		out[i] = row.AnchorValue
	}
	return out
}

// Column returns the matched values of the i-th other series
func (j *Joined) Column(i int) []float64 {
	out := make([]float64, len(j.Rows))
	for k, row := range j.Rows {
		out[k] = row.Values[i]
	}
	return out
}
