package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/vjranagit/tempomatch/pkg/types"
)

var (
	// ErrSeriesNotFound is returned by Load when no series matches
	ErrSeriesNotFound = errors.New("series not found")
	// ErrAmbiguousSelector is returned by Load when several series match
	ErrAmbiguousSelector = errors.New("selector matches more than one series")
	// ErrZoneConflict is returned when a write mixes naive and zoned samples
	// into one series.
	ErrZoneConflict = errors.New("series naive flag conflicts with stored series")
)

const (
	blockPrefix = 'b'
	metaPrefix  = 'm'
)

// Storage interface defines the contract for time-series storage
type Storage interface {
	// Write writes samples to storage. Samples sharing a timestamp with a
	// stored sample replace it.
	Write(ctx context.Context, req *types.WriteRequest) error

	// Query returns all series matching the selector in the range
	Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error)

	// Load returns exactly one series matching the selector, sorted by time
	Load(ctx context.Context, tenantID, selector string, start, end time.Time) (types.Series, error)

	// Stats reports store statistics
	Stats() Stats

	// Close closes the storage
	Close() error
}

// Stats describes the store
type Stats struct {
	Series   int
	Samples  int64
	LSMSize  int64
	VLogSize int64
}

// Config holds storage configuration
type Config struct {
	Path             string
	BlockDuration    time.Duration
	CompressionLevel int
	EnableWAL        bool
	InMemory         bool
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		BlockDuration:    24 * time.Hour,
		CompressionLevel: 3,
		EnableWAL:        true,
	}
}

// badgerStorage implements Storage using BadgerDB
type badgerStorage struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	wal        *WAL
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewStorage opens a store, rebuilds its index and replays the WAL
func NewStorage(cfg *Config, logger *zap.Logger) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = DefaultConfig().BlockDuration
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	s := &badgerStorage{
		cfg:        cfg,
		db:         db,
		index:      NewIndex(),
		compressor: compressor,
		logger:     logger,
	}

	if err := s.loadIndex(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	if cfg.EnableWAL && !cfg.InMemory {
		replayed := 0
		err := ReplayWAL(cfg.Path, compressor, func(req *types.WriteRequest) error {
			replayed++
			err := s.writeLocked(req)
			if errors.Is(err, ErrZoneConflict) {
				logger.Warn("skipping conflicting WAL entry",
					zap.String("tenant", req.TenantID),
					zap.Error(err))
				return nil
			}
			return err
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to replay WAL: %w", err)
		}
		if replayed > 0 {
			logger.Info("WAL replayed", zap.Int("requests", replayed))
		}

		s.wal, err = NewWAL(cfg.Path, compressor)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	logger.Debug("storage opened",
		zap.String("path", cfg.Path),
		zap.Int("series", s.index.SeriesCount()),
		zap.Duration("block", cfg.BlockDuration))

	return s, nil
}

// loadIndex rebuilds the in-memory index from persisted metadata
func (s *badgerStorage) loadIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte{metaPrefix}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta seriesMetadata
				if err := json.Unmarshal(val, &meta); err != nil {
					return err
				}
				s.index.insert(&meta)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Write implements Storage.Write
func (s *badgerStorage) Write(ctx context.Context, req *types.WriteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// reject before logging so a replay cannot fail on the same request
	if err := s.checkConflicts(req); err != nil {
		return err
	}

	if s.wal != nil {
		if err := s.wal.Append(req); err != nil {
			return fmt.Errorf("WAL append failed: %w", err)
		}
	}
	return s.writeLocked(req)
}

// checkConflicts rejects a request that changes the naive flag of a stored
// series or carries one metric with both flags.
func (s *badgerStorage) checkConflicts(req *types.WriteRequest) error {
	seen := make(map[uint64]bool, len(req.Series))
	for i := range req.Series {
		series := &req.Series[i]
		if meta, ok := s.index.Lookup(req.TenantID, &series.Metric); ok && meta.Naive != series.Naive {
			return fmt.Errorf("%w: %s", ErrZoneConflict, series.Metric.Name)
		}

		fingerprint := calculateFingerprint(req.TenantID, &series.Metric)
		if naive, ok := seen[fingerprint]; ok && naive != series.Naive {
			return fmt.Errorf("%w: %s repeated with both flags", ErrZoneConflict, series.Metric.Name)
		}
		seen[fingerprint] = series.Naive
	}
	return nil
}

// writeLocked persists a request. Index metadata changes only after the
// badger transaction of a series has committed.
func (s *badgerStorage) writeLocked(req *types.WriteRequest) error {
	if err := s.checkConflicts(req); err != nil {
		return err
	}

	for i := range req.Series {
		series := &req.Series[i]
		meta, created := s.index.AddSeries(req.TenantID, &series.Metric, series.Naive)
		staged := *meta

		blocks := s.groupSamplesByBlock(series.Normalized().Samples)
		err := s.db.Update(func(txn *badger.Txn) error {
			for blockTime, samples := range blocks {
				added, err := s.mergeBlock(txn, req.TenantID, staged.ID, blockTime, samples)
				if err != nil {
					return err
				}
				staged.Samples += int64(added)
				s.index.UpdateTimeRange(&staged,
					samples[0].Timestamp.UnixNano(),
					samples[len(samples)-1].Timestamp.UnixNano())
			}
			return s.putMeta(txn, &staged)
		})
		if err != nil {
			if created {
				s.index.RemoveSeries(meta)
			}
			return fmt.Errorf("failed to write series %s: %w", series.Metric.Name, err)
		}
		*meta = staged
	}

	return nil
}

// groupSamplesByBlock groups samples into sorted blocks. Naive samples are
// keyed by their wall clock read as UTC.
func (s *badgerStorage) groupSamplesByBlock(samples []types.Sample) map[int64][]types.Sample {
	blocks := make(map[int64][]types.Sample)
	step := int64(s.cfg.BlockDuration)

	for _, sample := range samples {
		ns := sample.Timestamp.UnixNano()
		blockTime := ns - mod(ns, step)
		blocks[blockTime] = append(blocks[blockTime], sample)
	}
	for _, b := range blocks {
		sort.SliceStable(b, func(i, j int) bool {
			return b[i].Timestamp.Before(b[j].Timestamp)
		})
	}

	return blocks
}

// mergeBlock merges samples into the stored block. Incoming samples replace
// stored ones with the same timestamp. Returns the net number of new samples.
func (s *badgerStorage) mergeBlock(txn *badger.Txn, tenantID string, seriesID uint64, blockTime int64, samples []types.Sample) (int, error) {
	key := generateKey(tenantID, seriesID, blockTime)

	var existing []types.Sample
	item, err := txn.Get(key)
	switch {
	case err == nil:
		if existing, err = s.decodeItem(item); err != nil {
			return 0, err
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return 0, err
	}

	incoming := make(map[int64]struct{}, len(samples))
	for _, sample := range samples {
		incoming[sample.Timestamp.UnixNano()] = struct{}{}
	}

	merged := make([]types.Sample, 0, len(existing)+len(samples))
	for _, old := range existing {
		if _, replaced := incoming[old.Timestamp.UnixNano()]; !replaced {
			merged = append(merged, old)
		}
	}
	merged = append(merged, samples...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	if err := txn.Set(key, s.compressor.EncodeBlock(merged)); err != nil {
		return 0, err
	}
	return len(merged) - len(existing), nil
}

func (s *badgerStorage) putMeta(txn *badger.Txn, meta *seriesMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal series metadata: %w", err)
	}
	return txn.Set(metaKey(meta.ID), data)
}

// Query implements Storage.Query
func (s *badgerStorage) Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error) {
	labelSelectors, err := ParseSelector(req.Query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seriesIDs := s.index.FindSeries(req.TenantID, labelSelectors)
	result := &types.QueryResult{
		Series: make([]types.Series, 0, len(seriesIDs)),
	}

	for _, seriesID := range seriesIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		meta, _ := s.index.GetSeries(seriesID)
		series, err := s.readSeries(meta, req.StartTime, req.EndTime)
		if err != nil {
			return nil, err
		}
		if len(series.Samples) > 0 {
			result.Series = append(result.Series, series)
		}
	}

	return result, nil
}

// Load implements Storage.Load
func (s *badgerStorage) Load(ctx context.Context, tenantID, selector string, start, end time.Time) (types.Series, error) {
	labelSelectors, err := ParseSelector(selector)
	if err != nil {
		return types.Series{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.Series{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.index.FindSeries(tenantID, labelSelectors)
	switch len(ids) {
	case 0:
		return types.Series{}, fmt.Errorf("%w: %s", ErrSeriesNotFound, selector)
	case 1:
	default:
		return types.Series{}, fmt.Errorf("%w: %s (%d series)", ErrAmbiguousSelector, selector, len(ids))
	}

	meta, _ := s.index.GetSeries(ids[0])
	return s.readSeries(meta, start, end)
}

// readSeries reads the blocks of one series within [start, end]; zero
// bounds are open.
func (s *badgerStorage) readSeries(meta *seriesMetadata, start, end time.Time) (types.Series, error) {
	series := types.Series{
		Metric: meta.Metric,
		Naive:  meta.Naive,
	}

	step := int64(s.cfg.BlockDuration)
	prefix := seriesPrefix(meta.TenantID, meta.ID)
	seek := prefix
	if !start.IsZero() {
		ns := start.UnixNano()
		seek = generateKey(meta.TenantID, meta.ID, ns-mod(ns, step))
	}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			samples, err := s.decodeItem(it.Item())
			if err != nil {
				return err
			}
			for _, sample := range samples {
				if !start.IsZero() && sample.Timestamp.Before(start) {
					continue
				}
				if !end.IsZero() && sample.Timestamp.After(end) {
					return nil
				}
				series.Samples = append(series.Samples, sample)
			}
		}
		return nil
	})
	if err != nil {
		return types.Series{}, fmt.Errorf("failed to read series %s: %w", meta.Metric.Name, err)
	}

	return series, nil
}

// decodeItem decodes the block held by a badger item
func (s *badgerStorage) decodeItem(item *badger.Item) ([]types.Sample, error) {
	var samples []types.Sample
	err := item.Value(func(val []byte) error {
		var derr error
		samples, derr = s.compressor.DecodeBlock(val)
		return derr
	})
	return samples, err
}

// Stats implements Storage.Stats
func (s *badgerStorage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Series: s.index.SeriesCount()}
	for _, meta := range s.index.series {
		st.Samples += meta.Samples
	}
	st.LSMSize, st.VLogSize = s.db.Size()
	return st
}

// Close implements Storage.Close
func (s *badgerStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.wal != nil {
		errs = append(errs, s.wal.Close())
		s.wal = nil
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	if s.compressor != nil {
		s.compressor.Close()
		s.compressor = nil
	}
	return errors.Join(errs...)
}

// seriesPrefix is the key prefix of all blocks of a series
func seriesPrefix(tenantID string, seriesID uint64) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(blockPrefix)
	buf.WriteString(tenantID)
	buf.WriteByte(0)
	binary.Write(buf, binary.BigEndian, seriesID)
	return buf.Bytes()
}

// generateKey generates a storage key for a time block. The sign bit of the
// block time is flipped so keys sort chronologically.
func generateKey(tenantID string, seriesID uint64, blockTime int64) []byte {
	key := seriesPrefix(tenantID, seriesID)
	return binary.BigEndian.AppendUint64(key, uint64(blockTime)^(1<<63))
}

func metaKey(seriesID uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte{metaPrefix}, seriesID)
}

// mod is the non-negative remainder
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
