package seriesio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vjranagit/tempomatch/pkg/matching"
	"github.com/vjranagit/tempomatch/pkg/types"
)

// ReadCSV reads timestamp,value rows. An optional header row is detected
// by an unparsable first timestamp; its second column names the series
// when name is empty. Empty and "NaN" values read as NaN. Rows are kept in
// file order.
func ReadCSV(r io.Reader, name string) (types.Series, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	series := types.Series{Metric: types.Metric{Name: name}}
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return series, err
		}
		if len(record) < 2 {
			return series, fmt.Errorf("line %d: expected timestamp,value", line)
		}

		ts, naive, err := ParseTimestamp(record[0])
		if err != nil {
			if line == 1 {
				if series.Metric.Name == "" {
					series.Metric.Name = strings.TrimSpace(record[1])
				}
				continue
			}
			return series, fmt.Errorf("line %d: %w", line, err)
		}

		value, err := parseValue(record[1])
		if err != nil {
			return series, fmt.Errorf("line %d: %w", line, err)
		}

		if len(series.Samples) == 0 {
			series.Naive = naive
		} else if naive != series.Naive {
			return series, fmt.Errorf("line %d: %w", line, ErrMixedZones)
		}
		series.Samples = append(series.Samples, types.Sample{Timestamp: ts, Value: value})
	}

	return series, nil
}

// ReadFile reads a CSV file. Without a header the file name (sans
// extension) names the series.
func ReadFile(path string) (types.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Series{}, err
	}
	defer f.Close()

	series, err := ReadCSV(f, "")
	if err != nil {
		return series, fmt.Errorf("%s: %w", path, err)
	}
	if series.Metric.Name == "" {
		base := filepath.Base(path)
		series.Metric.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return series, nil
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// WriteResult writes one row per anchor sample. Invalid matches leave the
// matched columns empty. Timestamps of naive series are written without
// an offset so ReadCSV reads them back as naive.
func WriteResult(w io.Writer, r *matching.Result) error {
	cw := csv.NewWriter(w)

	header := []string{"time", orDefault(r.Anchor, "anchor"), orDefault(r.Other, "matched"), "matched_time"}
	if r.HasDistance {
		header = append(header, "dist_other")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range r.Rows {
		matchedTime := ""
		if row.Valid {
			matchedTime = FormatTimestamp(row.MatchedTime, r.Naive)
		}
		record := []string{
			FormatTimestamp(row.Time, r.Naive),
			formatValue(row.AnchorValue),
			formatValue(row.Value),
			matchedTime,
		}
		if r.HasDistance {
			record = append(record, formatValue(row.Distance))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJoined writes the inner-joined table
func WriteJoined(w io.Writer, j *matching.Joined) error {
	cw := csv.NewWriter(w)

	header := []string{"time", orDefault(j.Anchor, "anchor")}
	header = append(header, j.Columns...)
	if j.HasDistance {
		for _, c := range j.Columns {
			header = append(header, "dist_"+c)
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range j.Rows {
		record := []string{FormatTimestamp(row.Time, j.Naive), formatValue(row.AnchorValue)}
		for _, v := range row.Values {
			record = append(record, formatValue(v))
		}
		if j.HasDistance {
			for _, d := range row.Distances {
				record = append(record, formatValue(d))
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
