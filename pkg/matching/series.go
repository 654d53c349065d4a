package matching

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/vjranagit/tempomatch/pkg/types"
)

// NormalizeUTC returns the timestamps of s on the UTC timeline.
// Zoned timestamps are converted; naive ones keep their wall clock.
func NormalizeUTC(s types.Series) []time.Time {
	out := make([]time.Time, len(s.Samples))
	for i, sample := range s.Samples {
		if s.Naive {
			out[i] = types.WallClockUTC(sample.Timestamp)
		} else {
			out[i] = sample.Timestamp.UTC()
		}
	}
	return out
}

// prepare validates a series and returns its normalized timestamps
func prepare(s types.Series, role string) ([]time.Time, error) {
	if len(s.Samples) == 0 {
		return nil, errors.Wrapf(ErrEmptyInput, "%s series %q", role, s.Metric.Name)
	}

	ts := NormalizeUTC(s)
	for i := 1; i < len(ts); i++ {
		if ts[i].Before(ts[i-1]) {
			return nil, errors.Wrapf(ErrUnsorted, "%s series %q at sample %d", role, s.Metric.Name, i)
		}
	}
	return ts, nil
}

func checkZones(anchor, other types.Series) error {
	if anchor.Naive != other.Naive {
		return errors.Wrapf(ErrTimezoneMismatch, "anchor %q naive=%t, other %q naive=%t",
			anchor.Metric.Name, anchor.Naive, other.Metric.Name, other.Naive)
	}
	return nil
}

// nearest returns the index in ts closest to t.
// ts must be sorted and non-empty. Equidistant candidates, including
// repeated timestamps, resolve to the earliest index.
func nearest(ts []time.Time, t time.Time) int {
	j := closest(ts, t)
	for j > 0 && ts[j-1].Equal(ts[j]) {
		j--
	}
	return j
}

func closest(ts []time.Time, t time.Time) int {
	// first index with ts[i] >= t
	idx := sort.Search(len(ts), func(i int) bool {
		return !ts[i].Before(t)
	})

	if idx == 0 {
		return 0
	}
	if idx == len(ts) {
		return len(ts) - 1
	}

	before := t.Sub(ts[idx-1])
	after := ts[idx].Sub(t)
	if after < before {
		return idx
	}
	return idx - 1
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Days converts a duration to fractional days
func Days(d time.Duration) float64 {
	return float64(d) / float64(24*time.Hour)
}
