// Package schema holds the wire-level data model shared by the store engine,
// the non-linear indexes, the RPC dispatcher and the AI proxy: vectors,
// metadata values, predicates, algorithm/model enumerations and the error
// taxonomy. Keeping these free of any package-specific behaviour avoids an
// import cycle between pkg/store, pkg/predicate, pkg/kdtree and pkg/hnsw.
package schema

import (
	"encoding/binary"
	"math"
)

// Vector is a fixed-dimension sequence of 32-bit floats. It doubles as the
// store's key: two vectors are the same key iff they hold identical bit
// patterns (NaN is rejected at the boundary, so there is no NaN-vs-NaN
// ambiguity to worry about).
type Vector []float32

// Dim returns the vector's dimension.
func (v Vector) Dim() int { return len(v) }

// HasNaN reports whether any component is NaN. Vectors containing NaN are
// rejected by Set before they ever reach a Vector value held by the store.
func (v Vector) HasNaN() bool {
	for _, f := range v {
		if math.IsNaN(float64(f)) {
			return true
		}
	}
	return false
}

// Key renders the vector's exact bit pattern as a comparable, hashable string
// so it can be used as a Go map key. Encoding is little-endian IEEE-754,
// 4 bytes per component.
func (v Vector) Key() string {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// Equal reports bit-pattern equality.
func (v Vector) Equal(other Vector) bool {
	if len(v) != len(other) {
		return false
	}
	for i := range v {
		if math.Float32bits(v[i]) != math.Float32bits(other[i]) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// VectorFromKey decodes a Vector back out of a string produced by Key.
func VectorFromKey(key string) Vector {
	buf := []byte(key)
	out := make(Vector, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
