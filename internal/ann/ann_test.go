package ann

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomUnitVectors(t *testing.T, n, dim int, seed int64) [][]float32 {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		u, ok := Normalize(v)
		require.True(t, ok)
		out[i] = u
	}
	return out
}

func bruteForce(vectors [][]float32, query []float32, k int) []int {
	rows := make([]int, len(vectors))
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(a, b int) bool {
		return dot(query, vectors[rows[a]]) > dot(query, vectors[rows[b]])
	})
	if k < len(rows) {
		rows = rows[:k]
	}
	return rows
}

func TestNew(t *testing.T) {
	b, err := New("exact")
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = New("")
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = New("vptree")
	require.NoError(t, err)
	assert.Equal(t, NameVPTree, b.Name())

	b, err = New("auto")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Contains(t, []string{NameVec0, NameVPTree}, b.Name())

	_, err = New("hnsw")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	u, ok := Normalize([]float32{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, u[0], 1e-6)
	assert.InDelta(t, 0.8, u[1], 1e-6)

	z, ok := Normalize([]float32{0, 0, 0})
	assert.False(t, ok)
	assert.Equal(t, []float32{0, 0, 0}, z)
}

func TestVPTreeMatchesBruteForce(t *testing.T) {
	vectors := randomUnitVectors(t, 300, 16, 1)
	idx, err := NewVPTree().Build(vectors)
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, 300, idx.Len())

	queries := randomUnitVectors(t, 20, 16, 2)
	for _, q := range queries {
		for _, k := range []int{1, 5, 25} {
			rows, scores, err := idx.Search(q, k)
			require.NoError(t, err)
			assert.Equal(t, bruteForce(vectors, q, k), rows)
			require.Len(t, scores, len(rows))
			for i := 1; i < len(scores); i++ {
				assert.GreaterOrEqual(t, scores[i-1], scores[i])
			}
		}
	}
}

func TestVPTreeKLargerThanIndex(t *testing.T) {
	vectors := randomUnitVectors(t, 4, 3, 3)
	idx, err := NewVPTree().Build(vectors)
	require.NoError(t, err)

	rows, _, err := idx.Search(vectors[0], 10)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, 0, rows[0])
}

func TestVPTreeDuplicateVectors(t *testing.T) {
	v := []float32{1, 0}
	idx, err := NewVPTree().Build([][]float32{v, v, v, {0, 1}})
	require.NoError(t, err)

	rows, scores, err := idx.Search(v, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, rows)
	for _, s := range scores {
		assert.InDelta(t, 1.0, s, 1e-9)
	}
}

func TestVPTreeEmptyAndErrors(t *testing.T) {
	idx, err := NewVPTree().Build(nil)
	require.NoError(t, err)
	rows, _, err := idx.Search([]float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = NewVPTree().Build([][]float32{{1, 0}, {1}})
	assert.Error(t, err)

	idx, err = NewVPTree().Build([][]float32{{1, 0}})
	require.NoError(t, err)
	_, _, err = idx.Search([]float32{1, 0, 0}, 1)
	assert.Error(t, err)
}

func TestVec0MatchesBruteForce(t *testing.T) {
	b := NewVec0()
	if err := b.Available(); err != nil {
		t.Skipf("sqlite-vec not available: %v", err)
	}

	vectors := randomUnitVectors(t, 100, 8, 4)
	idx, err := b.Build(vectors)
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, 100, idx.Len())

	q := randomUnitVectors(t, 1, 8, 5)[0]
	rows, scores, err := idx.Search(q, 5)
	require.NoError(t, err)
	assert.Equal(t, bruteForce(vectors, q, 5), rows)
	for i, r := range rows {
		assert.InDelta(t, dot(q, vectors[r]), scores[i], 1e-5)
	}
}

func TestVec0Empty(t *testing.T) {
	idx, err := NewVec0().Build(nil)
	require.NoError(t, err)
	rows, _, err := idx.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, idx.Close())
}
