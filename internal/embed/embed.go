// Package embed turns text into fixed-length unit vectors for similarity
// search. All providers must return normalized output so downstream scoring
// can reduce to a dot product.
package embed

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
)

// ErrModelUnavailable indicates the embedding backend could not be loaded
// or reached. Callers must fail, never fall back to a zero vector.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// Provider generates vector embeddings for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Normalize scales v to unit length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Dot returns the dot product of two vectors, zero on dimension mismatch.
// For unit vectors this is the cosine similarity.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// VectorToBlob encodes a vector as little-endian float32 bytes for storage.
func VectorToBlob(v []float32) []byte {
	blob := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(x))
	}
	return blob
}

// BlobToVector decodes a stored embedding blob, nil if malformed.
func BlobToVector(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}
