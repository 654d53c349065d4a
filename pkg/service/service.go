package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vjranagit/tempomatch/pkg/matching"
	"github.com/vjranagit/tempomatch/pkg/storage"
	"github.com/vjranagit/tempomatch/pkg/types"
)

// ErrInvalidRequest is returned for malformed match requests
var ErrInvalidRequest = errors.New("invalid match request")

// Outcome is the result of a match request. Exactly one of Results and
// Joined is set, depending on MatchRequest.Join.
type Outcome struct {
	Results []*matching.Result
	Joined  *matching.Joined
}

// Metrics are service counters
type Metrics struct {
	Matches     uint64
	Failures    uint64
	Writes      uint64
	CacheHits   uint64
	CacheMisses uint64
}

// Service resolves match requests against storage
type Service struct {
	store  storage.Storage
	cache  *ResultCache
	logger *zap.Logger

	defaultWindow    time.Duration
	defaultAsymmetry string

	// generation advances after every committed write
	generation atomic.Uint64

	matches  atomic.Uint64
	failures atomic.Uint64
	writes   atomic.Uint64
}

// Option configures a Service
type Option func(*Service)

// WithCache enables result caching
func WithCache(cache *ResultCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithDefaults sets the window and asymmetry used when a request leaves
// them unset
func WithDefaults(window time.Duration, asymmetry string) Option {
	return func(s *Service) {
		s.defaultWindow = window
		s.defaultAsymmetry = asymmetry
	}
}

// New creates a Service
func New(store storage.Storage, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write stores samples and invalidates cached outcomes
func (s *Service) Write(ctx context.Context, req *types.WriteRequest) error {
	if err := s.store.Write(ctx, req); err != nil {
		return err
	}
	s.writes.Add(1)
	s.generation.Add(1)
	if s.cache != nil {
		s.cache.Invalidate()
	}
	return nil
}

// Query returns raw samples
func (s *Service) Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error) {
	return s.store.Query(ctx, req)
}

// Stats returns storage statistics
func (s *Service) Stats() storage.Stats {
	return s.store.Stats()
}

// Metrics returns a snapshot of the service counters
func (s *Service) Metrics() Metrics {
	m := Metrics{
		Matches:  s.matches.Load(),
		Failures: s.failures.Load(),
		Writes:   s.writes.Load(),
	}
	if s.cache != nil {
		m.CacheHits, m.CacheMisses = s.cache.Stats()
	}
	return m
}

// Match loads the requested series and aligns them
func (s *Service) Match(ctx context.Context, req *types.MatchRequest) (*Outcome, error) {
	outcome, err := s.match(ctx, s.withDefaults(req))
	if err != nil {
		s.failures.Add(1)
		return nil, err
	}
	s.matches.Add(1)
	return outcome, nil
}

func (s *Service) withDefaults(req *types.MatchRequest) *types.MatchRequest {
	r := *req
	// the default asymmetry only applies together with the default window
	if r.Window == 0 {
		r.Window = s.defaultWindow
		if r.Asymmetry == "" {
			r.Asymmetry = s.defaultAsymmetry
		}
	}
	return &r
}

func (s *Service) match(ctx context.Context, req *types.MatchRequest) (*Outcome, error) {
	if req.Anchor == "" {
		return nil, fmt.Errorf("%w: anchor selector is required", ErrInvalidRequest)
	}
	if len(req.Others) == 0 {
		return nil, fmt.Errorf("%w: at least one other selector is required", ErrInvalidRequest)
	}

	matcher, err := newMatcher(req)
	if err != nil {
		return nil, err
	}

	// outcomes computed from reads that raced a write stay under the old
	// generation and are never served again
	generation := s.generation.Load()
	if s.cache != nil {
		if outcome, ok := s.cache.Get(req, generation); ok {
			return outcome, nil
		}
	}

	start := time.Now()
	anchor, err := s.store.Load(ctx, req.TenantID, req.Anchor, req.StartTime, req.EndTime)
	if err != nil {
		return nil, fmt.Errorf("anchor: %w", err)
	}
	others := make([]types.Series, len(req.Others))
	for i, selector := range req.Others {
		others[i], err = s.store.Load(ctx, req.TenantID, selector, req.StartTime, req.EndTime)
		if err != nil {
			return nil, fmt.Errorf("other %d: %w", i, err)
		}
	}

	outcome := &Outcome{}
	if req.Join {
		outcome.Joined, err = matcher.MatchJoin(anchor, others...)
	} else {
		outcome.Results, err = matcher.MatchAll(ctx, anchor, others...)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("series matched",
		zap.String("tenant", req.TenantID),
		zap.String("anchor", req.Anchor),
		zap.Strings("others", req.Others),
		zap.Int("anchor_samples", anchor.Len()),
		zap.Bool("join", req.Join),
		zap.Duration("elapsed", time.Since(start)))

	if s.cache != nil {
		s.cache.Put(req, generation, outcome)
	}
	return outcome, nil
}

// newMatcher maps request flags onto matcher options
func newMatcher(req *types.MatchRequest) (*matching.Matcher, error) {
	asym, err := matching.ParseAsymmetry(req.Asymmetry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	opts := []matching.Option{
		matching.WithWindow(req.Window),
		matching.WithAsymmetry(asym),
	}
	if req.ReturnDistance {
		opts = append(opts, matching.WithDistance())
	}
	if req.DuplicateNaN {
		opts = append(opts, matching.WithDuplicateNaN())
	}
	return matching.New(opts...)
}
