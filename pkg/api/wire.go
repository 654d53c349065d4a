package api

import (
	"fmt"
	"math"
	"time"

	"github.com/vjranagit/tempomatch/pkg/matching"
	"github.com/vjranagit/tempomatch/pkg/seriesio"
	"github.com/vjranagit/tempomatch/pkg/service"
	"github.com/vjranagit/tempomatch/pkg/types"
)

// JSON has no NaN, so values travel as nullable numbers.

type writeBody struct {
	Series []wireSeries `json:"series"`
}

type wireSeries struct {
	Name    string            `json:"name"`
	Labels  map[string]string `json:"labels,omitempty"`
	Samples []wireSample      `json:"samples"`
}

type wireSample struct {
	Timestamp string   `json:"timestamp"`
	Value     *float64 `json:"value"`
}

type matchBody struct {
	Anchor         string   `json:"anchor"`
	Others         []string `json:"others"`
	Start          string   `json:"start,omitempty"`
	End            string   `json:"end,omitempty"`
	Window         string   `json:"window,omitempty"`
	Asymmetry      string   `json:"asym,omitempty"`
	ReturnDistance bool     `json:"return_distance"`
	DuplicateNaN   bool     `json:"duplicate_nan"`
	Join           bool     `json:"join"`
}

type matchResponse struct {
	Results []wireResult `json:"results,omitempty"`
	Joined  *wireJoined  `json:"joined,omitempty"`
}

type wireResult struct {
	Anchor string      `json:"anchor"`
	Other  string      `json:"other"`
	Rows   []wireMatch `json:"rows"`
}

// Timestamps of naive series are rendered without an offset.
type wireMatch struct {
	Time        string   `json:"time"`
	AnchorValue *float64 `json:"anchor_value"`
	Value       *float64 `json:"matched_value"`
	MatchedTime string   `json:"matched_time,omitempty"`
	Distance    *float64 `json:"dist_other,omitempty"`
}

type wireJoined struct {
	Anchor  string          `json:"anchor"`
	Columns []string        `json:"columns"`
	Rows    []wireJoinedRow `json:"rows"`
}

type wireJoinedRow struct {
	Time        string    `json:"time"`
	AnchorValue float64   `json:"anchor_value"`
	Values      []float64 `json:"values"`
	Distances   []float64 `json:"dist_other,omitempty"`
}

type querySeries struct {
	Name    string            `json:"name"`
	Labels  map[string]string `json:"labels,omitempty"`
	Naive   bool              `json:"naive"`
	Samples []wireSample      `json:"samples"`
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func (ws wireSeries) toSeries() (types.Series, error) {
	series := types.Series{
		Metric:  types.Metric{Name: ws.Name, Labels: ws.Labels},
		Samples: make([]types.Sample, len(ws.Samples)),
	}
	if ws.Name == "" {
		return series, fmt.Errorf("series name is required")
	}

	for i, s := range ws.Samples {
		ts, naive, err := seriesio.ParseTimestamp(s.Timestamp)
		if err != nil {
			return series, fmt.Errorf("series %s sample %d: %w", ws.Name, i, err)
		}
		if i == 0 {
			series.Naive = naive
		} else if naive != series.Naive {
			return series, fmt.Errorf("series %s sample %d: %w", ws.Name, i, seriesio.ErrMixedZones)
		}
		value := math.NaN()
		if s.Value != nil {
			value = *s.Value
		}
		series.Samples[i] = types.Sample{Timestamp: ts, Value: value}
	}
	return series, nil
}

func (mb matchBody) toRequest(tenantID string) (*types.MatchRequest, error) {
	req := &types.MatchRequest{
		TenantID:       tenantID,
		Anchor:         mb.Anchor,
		Others:         mb.Others,
		Asymmetry:      mb.Asymmetry,
		ReturnDistance: mb.ReturnDistance,
		DuplicateNaN:   mb.DuplicateNaN,
		Join:           mb.Join,
	}

	var err error
	if mb.Window != "" {
		if req.Window, err = time.ParseDuration(mb.Window); err != nil {
			return nil, fmt.Errorf("invalid window: %w", err)
		}
	}
	if mb.Start != "" {
		if req.StartTime, _, err = seriesio.ParseTimestamp(mb.Start); err != nil {
			return nil, fmt.Errorf("invalid start: %w", err)
		}
	}
	if mb.End != "" {
		if req.EndTime, _, err = seriesio.ParseTimestamp(mb.End); err != nil {
			return nil, fmt.Errorf("invalid end: %w", err)
		}
	}
	return req, nil
}

func toQuerySeries(s types.Series) querySeries {
	qs := querySeries{
		Name:    s.Metric.Name,
		Labels:  s.Metric.Labels,
		Naive:   s.Naive,
		Samples: make([]wireSample, len(s.Samples)),
	}
	for i, sample := range s.Samples {
		qs.Samples[i] = wireSample{
			Timestamp: seriesio.FormatTimestamp(sample.Timestamp, s.Naive),
			Value:     nullable(sample.Value),
		}
	}
	return qs
}

func toMatchResponse(outcome *service.Outcome) matchResponse {
	var resp matchResponse
	for _, r := range outcome.Results {
		resp.Results = append(resp.Results, toWireResult(r))
	}
	if outcome.Joined != nil {
		resp.Joined = toWireJoined(outcome.Joined)
	}
	return resp
}

func toWireResult(r *matching.Result) wireResult {
	wr := wireResult{
		Anchor: r.Anchor,
		Other:  r.Other,
		Rows:   make([]wireMatch, len(r.Rows)),
	}
	for i, row := range r.Rows {
		wm := wireMatch{
			Time:        seriesio.FormatTimestamp(row.Time, r.Naive),
			AnchorValue: nullable(row.AnchorValue),
			Value:       nullable(row.Value),
		}
		if row.Valid {
			wm.MatchedTime = seriesio.FormatTimestamp(row.MatchedTime, r.Naive)
			if r.HasDistance {
				wm.Distance = nullable(row.Distance)
			}
		}
		wr.Rows[i] = wm
	}
	return wr
}

// joined rows never hold NaN
func toWireJoined(j *matching.Joined) *wireJoined {
	wj := &wireJoined{
		Anchor:  j.Anchor,
		Columns: j.Columns,
		Rows:    make([]wireJoinedRow, len(j.Rows)),
	}
	for i, row := range j.Rows {
		wr := wireJoinedRow{
			Time:        seriesio.FormatTimestamp(row.Time, j.Naive),
			AnchorValue: row.AnchorValue,
			Values:      row.Values,
		}
		if j.HasDistance {
			wr.Distances = row.Distances
		}
		wj.Rows[i] = wr
	}
	return wj
}
