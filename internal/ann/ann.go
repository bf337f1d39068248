// Package ann provides approximate and accelerated nearest-neighbour indexes
// over unit-length float32 vectors. Scores are cosine similarities.
package ann

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Backend names accepted by New.
const (
	NameExact  = "exact"
	NameAuto   = "auto"
	NameVec0   = "vec0"
	NameVPTree = "vptree"
)

// ErrUnavailable is returned by Backend.Available when the backend cannot run
// in this process.
var ErrUnavailable = errors.New("index backend unavailable")

// Index is an immutable search structure built from a fixed set of vectors.
// Rows are positions in the slice passed to Build.
type Index interface {
	// Search returns up to k rows ordered by descending score.
	Search(query []float32, k int) (rows []int, scores []float64, err error)
	Len() int
	Close() error
}

// Backend builds indexes. Build receives unit-length vectors of equal length.
type Backend interface {
	Name() string
	Available() error
	Build(vectors [][]float32) (Index, error)
}

// New resolves a backend by name. NameExact yields a nil backend, which
// callers treat as "no acceleration". NameAuto prefers vec0 and falls back
// to the in-process VP-tree.
func New(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameExact:
		return nil, nil
	case NameVec0:
		b := NewVec0()
		if err := b.Available(); err != nil {
			return nil, err
		}
		return b, nil
	case NameVPTree:
		return NewVPTree(), nil
	case NameAuto:
		if b := NewVec0(); b.Available() == nil {
			return b, nil
		}
		return NewVPTree(), nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s (use exact, auto, vec0 or vptree)", name)
	}
}

// Normalize returns v scaled to unit length. The second result is false for
// a zero vector, which is returned unchanged as a copy.
func Normalize(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out, false
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, true
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func checkVectors(vectors [][]float32) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, errors.New("cannot index empty vectors")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("vector %d has length %d, expected %d", i, len(v), dim)
		}
	}
	return dim, nil
}
