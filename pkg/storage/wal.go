package storage

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vjranagit/tempomatch/pkg/types"
)

// WAL implements a Write-Ahead Log for durability. Each record is a
// uint32 length followed by a zstd frame holding a JSON walEntry.
type WAL struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	compressor *Compressor
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// walEntry is the on-disk form of a write request. Values are stored as
// IEEE bits so NaN survives JSON.
type walEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	TenantID  string      `json:"tenant_id"`
	Series    []walSeries `json:"series"`
}

type walSeries struct {
	Metric     types.Metric `json:"metric"`
	Naive      bool         `json:"naive"`
	Timestamps []int64      `json:"ts"`
	Values     []uint64     `json:"values"`
}

const walFlushInterval = time.Second

// NewWAL creates a new Write-Ahead Log
func NewWAL(dataPath string, compressor *Compressor) (*WAL, error) {
	walPath := filepath.Join(dataPath, "wal")
	if err := os.MkdirAll(walPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filename := filepath.Join(walPath, fmt.Sprintf("wal-%d.log", time.Now().UnixNano()))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	wal := &WAL{
		path:       walPath,
		file:       file,
		writer:     bufio.NewWriter(file),
		compressor: compressor,
	}
	wal.flushTimer = time.AfterFunc(walFlushInterval, wal.autoFlush)

	return wal, nil
}

// Append appends a write request to the WAL
func (w *WAL) Append(req *types.WriteRequest) error {
	entry := walEntry{
		Timestamp: time.Now().UTC(),
		TenantID:  req.TenantID,
		Series:    make([]walSeries, len(req.Series)),
	}
	for i, series := range req.Series {
		ws := walSeries{
			Metric:     series.Metric,
			Naive:      series.Naive,
			Timestamps: make([]int64, len(series.Samples)),
			Values:     make([]uint64, len(series.Samples)),
		}
		for j, sample := range series.Normalized().Samples {
			ws.Timestamps[j] = sample.Timestamp.UnixNano()
			ws.Values[j] = math.Float64bits(sample.Value)
		}
		entry.Series[i] = ws
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}
	frame := w.compressor.Compress(data)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("WAL closed")
	}
	if err := binary.Write(w.writer, binary.LittleEndian, uint32(len(frame))); err != nil {
		return fmt.Errorf("failed to write WAL record header: %w", err)
	}
	if _, err := w.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}

	return nil
}

// Flush flushes the WAL to disk
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if w.closed {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// autoFlush periodically flushes the WAL
func (w *WAL) autoFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.flushLocked()
	w.flushTimer.Reset(walFlushInterval)
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.flushTimer.Stop()

	if err := w.flushLocked(); err != nil {
		return err
	}
	w.closed = true
	return w.file.Close()
}

// ReplayWAL replays all WAL files in order and removes them
func ReplayWAL(dataPath string, compressor *Compressor, handler func(*types.WriteRequest) error) error {
	walPath := filepath.Join(dataPath, "wal")

	entries, err := os.ReadDir(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read WAL directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := filepath.Join(walPath, entry.Name())
		if err := replayWALFile(filename, compressor, handler); err != nil {
			return fmt.Errorf("failed to replay %s: %w", filename, err)
		}
		if err := os.Remove(filename); err != nil {
			return fmt.Errorf("failed to remove replayed WAL: %w", err)
		}
	}

	return nil
}

// replayWALFile replays a single WAL file. A truncated trailing record
// from a crash ends the replay of that file.
func replayWALFile(filename string, compressor *Compressor, handler func(*types.WriteRequest) error) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	r := bufio.NewReader(file)
	for {
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		data, err := compressor.Decompress(frame)
		if err != nil {
			return err
		}
		var entry walEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("failed to unmarshal WAL entry: %w", err)
		}

		if err := handler(entry.request()); err != nil {
			return fmt.Errorf("failed to replay entry: %w", err)
		}
	}
}

func (e walEntry) request() *types.WriteRequest {
	req := &types.WriteRequest{
		TenantID: e.TenantID,
		Series:   make([]types.Series, len(e.Series)),
	}
	for i, ws := range e.Series {
		series := types.Series{
			Metric:  ws.Metric,
			Naive:   ws.Naive,
			Samples: make([]types.Sample, len(ws.Timestamps)),
		}
		for j := range ws.Timestamps {
			series.Samples[j] = types.Sample{
				Timestamp: time.Unix(0, ws.Timestamps[j]).UTC(),
				Value:     math.Float64frombits(ws.Values[j]),
			}
		}
		req.Series[i] = series
	}
	return req
}
