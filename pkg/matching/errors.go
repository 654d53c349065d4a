package matching

import "github.com/pkg/errors"

var (
	// ErrEmptyInput is returned when the anchor or an other series has no samples.
	ErrEmptyInput = errors.New("empty input series")

	// ErrUnsorted is returned when a series is not ordered by timestamp.
	// Input is never re-sorted.
	ErrUnsorted = errors.New("series not sorted by timestamp")

	// ErrTimezoneMismatch is returned when a naive series meets a zoned one.
	ErrTimezoneMismatch = errors.New("cannot match naive and zoned timestamps")

	// ErrInvalidWindow is returned for negative windows or an asymmetry
	// without a window.
	ErrInvalidWindow = errors.New("invalid match window")
)
