// Package vectorindex implements an in-memory HNSW approximate nearest
// neighbor graph over float32 vectors, with snapshot persistence.
package vectorindex

import (
	"encoding/binary"
	"fmt"
	"math"

	json "github.com/goccy/go-json"
)

// Vector is an embedding vector.
type Vector []float32

// Encode returns a little-endian byte encoding of v, the on-disk wire
// format (§4.8/§9): 4 bytes per component.
func (v Vector) Encode() []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

// DecodeVector decodes enc into a Vector. If enc is not a multiple of 4
// bytes, it is assumed to be the legacy JSON-array encoding instead (an
// earlier on-disk format) and is decoded as such.
func DecodeVector(enc []byte) (Vector, error) {
	if len(enc)%4 == 0 && len(enc) > 0 {
		v := make(Vector, len(enc)/4)
		for i := range v {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(enc[4*i:]))
		}
		return v, nil
	}
	var legacy []float32
	if err := json.Unmarshal(enc, &legacy); err != nil {
		return nil, fmt.Errorf("vectorindex: decode vector: %w", err)
	}
	return Vector(legacy), nil
}

// Dot returns the dot product of v and w, truncated to the shorter length.
func (v Vector) Dot(w Vector) float64 {
	n := min(len(v), len(w))
	v, w = v[:n], w[:n]
	t := float64(0)
	for i := range v {
		t += float64(v[i]) * float64(w[i])
	}
	return t
}

// Norm returns the Euclidean norm of v.
func (v Vector) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}
