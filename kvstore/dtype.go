package kvstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType is the element type of a stored tensor.
type DType uint8

const (
	// Float32 is a 4-byte IEEE 754 float.
	Float32 DType = iota + 1
	// Float64 is an 8-byte IEEE 754 float.
	Float64
	// Int32 is a 4-byte signed integer.
	Int32
	// Int64 is an 8-byte signed integer.
	Int64
)

// Size returns the element size in bytes.
func (d DType) Size() int64 {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Valid reports whether d is a known dtype.
func (d DType) Valid() bool { return d.Size() > 0 }

// Scheme describes one named tensor: the shape of a single row plus the
// element type. The leading (row count) dimension is not part of the scheme;
// it is fixed per shard by the partition's inner entity count.
type Scheme struct {
	Shape []int64 `json:"shape"`
	DType DType   `json:"dtype"`
}

// RowElems returns the number of elements in one row.
func (s Scheme) RowElems() int64 {
	n := int64(1)
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// RowBytes returns the byte size of one row.
func (s Scheme) RowBytes() int64 { return s.RowElems() * s.DType.Size() }

// Equal reports whether two schemes describe the same layout.
func (s Scheme) Equal(o Scheme) bool {
	if s.DType != o.DType || len(s.Shape) != len(o.Shape) {
		return false
	}
	for i := range s.Shape {
		if s.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

func (s Scheme) String() string {
	return fmt.Sprintf("%v %s", s.Shape, s.DType)
}

// Validate checks shape and dtype sanity.
func (s Scheme) Validate() error {
	if !s.DType.Valid() {
		return fmt.Errorf("kvstore: invalid dtype %d", uint8(s.DType))
	}
	if len(s.Shape) == 0 {
		return fmt.Errorf("kvstore: scheme needs at least one row dimension")
	}
	for _, d := range s.Shape {
		if d < 1 {
			return fmt.Errorf("kvstore: non-positive shape dimension %d", d)
		}
	}
	return nil
}

// Tensor rows travel and are stored as little-endian flat bytes. The helpers
// below convert to and from typed slices.

// Float32ToBytes encodes vals as little-endian bytes.
func Float32ToBytes(vals []float32) []byte {
	out := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

// BytesToFloat32 decodes little-endian bytes into float32s.
func BytesToFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("kvstore: %d bytes is not a float32 array", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// Float64ToBytes encodes vals as little-endian bytes.
func Float64ToBytes(vals []float64) []byte {
	out := make([]byte, 0, len(vals)*8)
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	}
	return out
}

// BytesToFloat64 decodes little-endian bytes into float64s.
func BytesToFloat64(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("kvstore: %d bytes is not a float64 array", len(data))
	}
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out, nil
}

// Int64ToBytes encodes vals as little-endian bytes.
func Int64ToBytes(vals []int64) []byte {
	out := make([]byte, 0, len(vals)*8)
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint64(out, uint64(v))
	}
	return out
}

// BytesToInt64 decodes little-endian bytes into int64s.
func BytesToInt64(data []byte) ([]int64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("kvstore: %d bytes is not an int64 array", len(data))
	}
	out := make([]int64, len(data)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out, nil
}
