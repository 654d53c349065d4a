package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/vjranagit/tempomatch/pkg/types"
)

// ErrCorruptBlock is returned when a block cannot be decoded
var ErrCorruptBlock = errors.New("corrupt sample block")

// Compressor encodes sample blocks: delta-of-delta varint timestamps
// (nanoseconds), XOR'd float bits, then zstd. NaN values survive intact.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor. Levels 1-4 map to zstd speeds.
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// EncodeBlock encodes samples in the given order
func (c *Compressor) EncodeBlock(samples []types.Sample) []byte {
	buf := make([]byte, 0, 16+len(samples)*4)
	buf = binary.AppendUvarint(buf, uint64(len(samples)))

	var prevTS, prevDelta int64
	var prevBits uint64
	for i, s := range samples {
		ts := s.Timestamp.UnixNano()
		bits := math.Float64bits(s.Value)
		if i == 0 {
			buf = binary.AppendVarint(buf, ts)
			buf = binary.AppendUvarint(buf, bits)
		} else {
			delta := ts - prevTS
			buf = binary.AppendVarint(buf, delta-prevDelta)
			buf = binary.AppendUvarint(buf, bits^prevBits)
			prevDelta = delta
		}
		prevTS = ts
		prevBits = bits
	}

	return c.Compress(buf)
}

// DecodeBlock reverses EncodeBlock. Timestamps come back in UTC.
func (c *Compressor) DecodeBlock(data []byte) ([]types.Sample, error) {
	raw, err := c.Decompress(data)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(raw)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: count: %v", ErrCorruptBlock, err)
	}
	if count > uint64(len(raw)) {
		return nil, fmt.Errorf("%w: count %d exceeds payload", ErrCorruptBlock, count)
	}

	samples := make([]types.Sample, count)
	var ts, delta int64
	var bits uint64
	for i := range samples {
		v, err := binary.ReadVarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %d: %v", ErrCorruptBlock, i, err)
		}
		x, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: value %d: %v", ErrCorruptBlock, i, err)
		}
		if i == 0 {
			ts, bits = v, x
		} else {
			delta += v
			ts += delta
			bits ^= x
		}
		samples[i] = types.Sample{
			Timestamp: time.Unix(0, ts).UTC(),
			Value:     math.Float64frombits(bits),
		}
	}

	return samples, nil
}

// Compress wraps raw bytes in a zstd frame
func (c *Compressor) Compress(raw []byte) []byte {
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))
}

// Decompress reverses Compress
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	return raw, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
