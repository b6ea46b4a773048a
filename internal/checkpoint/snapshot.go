package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FormatVersion is written into every snapshot. Decode rejects others.
const FormatVersion = 1

// maxDecodedSize bounds decompression of untrusted blobs.
const maxDecodedSize = 256 << 20

var (
	// ErrNotFound is returned by a Store that holds no snapshot yet.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCorrupt wraps every decode and validation failure.
	ErrCorrupt = errors.New("corrupt checkpoint")
)

// ArmState is the persisted form of one arm.
type ArmState struct {
	A         [][]float64 `json:"a"`
	B         []float64   `json:"b"`
	Updates   uint64      `json:"updates"`
	UpdatedAt time.Time   `json:"updated_at,omitzero"`
}

// Snapshot is the persisted form of the whole arm store.
type Snapshot struct {
	Version      int                 `json:"version"`
	Dimension    int                 `json:"dimension"`
	ModelVersion string              `json:"model_version,omitempty"`
	SavedAt      time.Time           `json:"saved_at"`
	Arms         map[string]ArmState `json:"arms"`
}

// NewSnapshot returns an empty snapshot for n-dimensional arms.
func NewSnapshot(dimension int, modelVersion string) *Snapshot {
	return &Snapshot{
		Version:      FormatVersion,
		Dimension:    dimension,
		ModelVersion: modelVersion,
		SavedAt:      time.Now().UTC(),
		Arms:         make(map[string]ArmState),
	}
}

// Validate checks version, shapes, symmetry of A and finiteness against
// dimension.
// A dimension of zero accepts whatever the snapshot declares.
func (s *Snapshot) Validate(dimension int) error {
	if s.Version != FormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, s.Version)
	}
	if s.Dimension < 1 {
		return fmt.Errorf("%w: invalid dimension %d", ErrCorrupt, s.Dimension)
	}
	if dimension > 0 && s.Dimension != dimension {
		return fmt.Errorf("%w: dimension %d, expected %d", ErrCorrupt, s.Dimension, dimension)
	}
	n := s.Dimension
	for id, arm := range s.Arms {
		if len(arm.A) != n {
			return fmt.Errorf("%w: arm %q: A has %d rows, expected %d", ErrCorrupt, id, len(arm.A), n)
		}
		for i, row := range arm.A {
			if len(row) != n {
				return fmt.Errorf("%w: arm %q: A row %d has %d columns, expected %d", ErrCorrupt, id, i, len(row), n)
			}
			if !allFinite(row) {
				return fmt.Errorf("%w: arm %q: A row %d has non-finite values", ErrCorrupt, id, i)
			}
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if arm.A[i][j] != arm.A[j][i] {
					return fmt.Errorf("%w: arm %q: A is not symmetric at (%d,%d)", ErrCorrupt, id, i, j)
				}
			}
		}
		if len(arm.B) != n {
			return fmt.Errorf("%w: arm %q: b has length %d, expected %d", ErrCorrupt, id, len(arm.B), n)
		}
		if !allFinite(arm.B) {
			return fmt.Errorf("%w: arm %q: b has non-finite values", ErrCorrupt, id)
		}
	}
	return nil
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	})
	return zstdEnc, zstdDec, zstdErr
}

// Encode serializes s as JSON. Go's float formatting is the shortest
// representation that round-trips, so no precision is lost. With
// compress set the JSON is wrapped in a zstd frame.
func Encode(s *Snapshot, compress bool) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil snapshot")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if !compress {
		return data, nil
	}
	enc, _, err := zstdCodec()
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

// Decode parses a blob written by Encode, compressed or not, and validates
// it against dimension.
func Decode(data []byte, dimension int) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrCorrupt)
	}
	if bytes.HasPrefix(data, zstdMagic) {
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("init zstd: %w", err)
		}
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
		}
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.Arms == nil {
		s.Arms = make(map[string]ArmState)
	}
	if err := s.Validate(dimension); err != nil {
		return nil, err
	}
	return &s, nil
}
