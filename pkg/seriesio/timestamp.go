package seriesio

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMixedZones is returned when a series mixes naive and zoned timestamps
var ErrMixedZones = errors.New("series mixes naive and zoned timestamps")

const naiveLayout = "2006-01-02T15:04:05.999999999"

var naiveLayouts = []string{
	naiveLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses an RFC3339 timestamp (zoned) or one of the naive
// layouts, which carry no offset and are returned as UTC wall clock.
func ParseTimestamp(s string) (t time.Time, naive bool, err error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, false, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTimestamp renders t so that ParseTimestamp restores it
func FormatTimestamp(t time.Time, naive bool) string {
	if naive {
		return t.Format(naiveLayout)
	}
	return t.Format(time.RFC3339Nano)
}
