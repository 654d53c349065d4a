package matching

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/tempomatch/pkg/types"
)

// Matcher aligns series by nearest timestamp. It holds no mutable state and
// is safe for concurrent use.
type Matcher struct {
	opts Options
}

// New creates a Matcher from functional options
func New(opts ...Option) (*Matcher, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return &Matcher{opts: o}, nil
}

// Options returns the matcher configuration
func (m *Matcher) Options() Options {
	return m.opts
}

// Match finds, for every anchor sample, the nearest sample of other.
// The result has exactly one row per anchor sample; rows failing the window
// (or losing a duplicate contest with DuplicateNaN) are invalid and NaN.
func (m *Matcher) Match(anchor, other types.Series) (*Result, error) {
	rows, err := m.match(anchor, other, m.opts.DuplicateNaN)
	if err != nil {
		return nil, err
	}
	return &Result{
		Anchor:      anchor.Metric.Name,
		Other:       other.Metric.Name,
		Rows:        rows,
		HasDistance: m.opts.ReturnDistance,
		Naive:       anchor.Naive,
	}, nil
}

// MatchAll runs Match against each other series concurrently. Results keep
// the order of others.
func (m *Matcher) MatchAll(ctx context.Context, anchor types.Series, others ...types.Series) ([]*Result, error) {
	if len(others) == 0 {
		return nil, errors.Wrap(ErrEmptyInput, "no other series given")
	}

	results := make([]*Result, len(others))
	g, ctx := errgroup.WithContext(ctx)
	for i := range others {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := m.Match(anchor, others[i])
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// MatchJoin is the row-reducing variant of Match. Each other series keeps
// only its closest anchor per matched sample, then anchors are inner-joined
// with all matched columns. Rows holding a NaN anywhere, or failing any
// window, are dropped.
func (m *Matcher) MatchJoin(anchor types.Series, others ...types.Series) (*Joined, error) {
	if len(others) == 0 {
		return nil, errors.Wrap(ErrEmptyInput, "no other series given")
	}

	matched := make([][]Match, len(others))
	for k, other := range others {
		rows, err := m.match(anchor, other, true)
		if err != nil {
			return nil, err
		}
		matched[k] = rows
	}

	joined := &Joined{
		Anchor:      anchor.Metric.Name,
		Columns:     columnNames(others),
		Naive:       anchor.Naive,
		Rows:        make([]JoinedRow, 0, len(anchor.Samples)),
		HasDistance: m.opts.ReturnDistance,
	}

rows:
	for i, sample := range anchor.Samples {
		if math.IsNaN(sample.Value) {
			continue
		}
		row := JoinedRow{
			Time:        matched[0][i].Time,
			AnchorValue: sample.Value,
			Values:      make([]float64, len(others)),
			Distances:   make([]float64, len(others)),
		}
		for k := range others {
			mr := matched[k][i]
			if !mr.Valid || math.IsNaN(mr.Value) {
				continue rows
			}
			row.Values[k] = mr.Value
			row.Distances[k] = mr.Distance
		}
		joined.Rows = append(joined.Rows, row)
	}

	return joined, nil
}

// columnNames names the joined columns after the other series. Unnamed
// series become other_<k>; a repeated name gets a _<k> suffix.
func columnNames(others []types.Series) []string {
	columns := make([]string, len(others))
	used := make(map[string]bool, len(others))
	for k, other := range others {
		name := other.Metric.Name
		if name == "" {
			name = fmt.Sprintf("other_%d", k)
		}
		for used[name] {
			name = fmt.Sprintf("%s_%d", name, k)
		}
		used[name] = true
		columns[k] = name
	}
	return columns
}

func (m *Matcher) match(anchor, other types.Series, dedupe bool) ([]Match, error) {
	if err := checkZones(anchor, other); err != nil {
		return nil, err
	}
	at, err := prepare(anchor, "anchor")
	if err != nil {
		return nil, err
	}
	ot, err := prepare(other, "other")
	if err != nil {
		return nil, err
	}

	rows := make([]Match, len(at))
	for i, t := range at {
		row := Match{Time: t, AnchorValue: anchor.Samples[i].Value}

		j := nearest(ot, t)
		d := ot[j].Sub(t)
		if m.opts.within(d) {
			row.Valid = true
			row.Index = j
			row.MatchedTime = ot[j]
			row.Value = other.Samples[j].Value
			row.Offset = d
			row.Distance = Days(d)
		} else {
			row.invalidate()
		}
		rows[i] = row
	}

	if dedupe {
		suppressDuplicates(rows)
	}
	return rows, nil
}

// suppressDuplicates keeps, for every matched index, only the row with the
// smallest absolute offset. Ties keep the earliest anchor.
func suppressDuplicates(rows []Match) {
	best := make(map[int]int)
	for i := range rows {
		if !rows[i].Valid {
			continue
		}
		b, seen := best[rows[i].Index]
		if !seen {
			best[rows[i].Index] = i
			continue
		}
		if absDuration(rows[i].Offset) < absDuration(rows[b].Offset) {
			rows[b].invalidate()
			best[rows[i].Index] = i
		} else {
			rows[i].invalidate()
		}
	}
}
