package matching

import (
	"time"

	"github.com/pkg/errors"
)

// Asymmetry selects which window bound is exclusive
type Asymmetry int

const (
	// Symmetric accepts -w <= d <= w
	Symmetric Asymmetry = iota
	// ExcludeLower accepts -w < d <= w ("<=")
	ExcludeLower
	// ExcludeUpper accepts -w <= d < w (">=")
	ExcludeUpper
)

// ParseAsymmetry maps the textual form used by the API and CLI.
func ParseAsymmetry(s string) (Asymmetry, error) {
	switch s {
	case "", "none", "symmetric":
		return Symmetric, nil
	case "<=":
		return ExcludeLower, nil
	case ">=":
		return ExcludeUpper, nil
	}
	return Symmetric, errors.Errorf("unknown window asymmetry %q", s)
}

func (a Asymmetry) String() string {
	switch a {
	case ExcludeLower:
		return "<="
	case ExcludeUpper:
		return ">="
	default:
		return "symmetric"
	}
}

// Options controls a Matcher
type Options struct {
	// Window is the largest accepted absolute distance. Zero disables it.
	Window    time.Duration
	Asymmetry Asymmetry
	// ReturnDistance asks renderers to emit the dist_other column.
	ReturnDistance bool
	// DuplicateNaN keeps only the closest anchor per matched sample.
	DuplicateNaN bool
}

// Option configures a Matcher (functional option)
type Option func(*Options)

// WithWindow sets the maximum absolute distance
func WithWindow(d time.Duration) Option {
	return func(o *Options) {
		o.Window = d
	}
}

// WithAsymmetry makes one window bound exclusive
func WithAsymmetry(a Asymmetry) Option {
	return func(o *Options) {
		o.Asymmetry = a
	}
}

// WithDistance enables the distance column in rendered results
func WithDistance() Option {
	return func(o *Options) {
		o.ReturnDistance = true
	}
}

// WithDuplicateNaN enables duplicate suppression
func WithDuplicateNaN() Option {
	return func(o *Options) {
		o.DuplicateNaN = true
	}
}

func (o Options) validate() error {
	if o.Window < 0 {
		return errors.Wrapf(ErrInvalidWindow, "negative window %s", o.Window)
	}
	if o.Window == 0 && o.Asymmetry != Symmetric {
		return errors.Wrapf(ErrInvalidWindow, "asymmetry %s requires a window", o.Asymmetry)
	}
	return nil
}

// within reports whether a signed distance passes the window test
func (o Options) within(d time.Duration) bool {
	w := o.Window
	if w == 0 {
		return true
	}
	switch o.Asymmetry {
	case ExcludeLower:
		return d > -w && d <= w
	case ExcludeUpper:
		return d >= -w && d < w
	default:
		return d >= -w && d <= w
	}
}
