package ann

import (
	"container/heap"
	"fmt"
	"math"
	"sort"
)

// pruneSlack absorbs rounding when comparing derived distances.
const pruneSlack = 1e-9

// VPTree is an in-process vantage-point tree. On unit vectors the chord
// distance sqrt(2-2cos) is a metric and monotone in cosine, so the search
// is exact.
type VPTree struct{}

// NewVPTree returns the VP-tree backend.
func NewVPTree() *VPTree {
	return &VPTree{}
}

func (b *VPTree) Name() string { return NameVPTree }

func (b *VPTree) Available() error { return nil }

func (b *VPTree) Build(vectors [][]float32) (Index, error) {
	dim, err := checkVectors(vectors)
	if err != nil {
		return nil, err
	}
	t := &vpIndex{dim: dim, vecs: vectors}
	if len(vectors) == 0 {
		return t, nil
	}
	rows := make([]int, len(vectors))
	for i := range rows {
		rows[i] = i
	}
	t.root = t.build(rows)
	return t, nil
}

type vpNode struct {
	row     int
	thr     float64
	inside  *vpNode // distance to row <= thr
	outside *vpNode // distance to row >= thr
}

type vpIndex struct {
	dim  int
	vecs [][]float32
	root *vpNode
}

func (t *vpIndex) distance(a, b []float32) float64 {
	return chord(dot(a, b))
}

func chord(cos float64) float64 {
	return math.Sqrt(math.Max(0, 2-2*cos))
}

func (t *vpIndex) build(rows []int) *vpNode {
	if len(rows) == 0 {
		return nil
	}
	// Last row is the vantage point; keeps builds deterministic.
	vp := rows[len(rows)-1]
	rows = rows[:len(rows)-1]
	n := &vpNode{row: vp}
	if len(rows) == 0 {
		return n
	}

	dists := make([]float64, len(rows))
	for i, r := range rows {
		dists[i] = t.distance(t.vecs[vp], t.vecs[r])
	}
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return dists[order[a]] < dists[order[b]] })

	mid := len(order) / 2
	n.thr = dists[order[mid]]
	inside := make([]int, 0, mid+1)
	outside := make([]int, 0, len(order)-mid-1)
	for rank, i := range order {
		if rank <= mid {
			inside = append(inside, rows[i])
		} else {
			outside = append(outside, rows[i])
		}
	}
	n.inside = t.build(inside)
	n.outside = t.build(outside)
	return n
}

func (t *vpIndex) Search(query []float32, k int) ([]int, []float64, error) {
	if t.root == nil || k <= 0 {
		return nil, nil, nil
	}
	if len(query) != t.dim {
		return nil, nil, fmt.Errorf("query has length %d, index has %d", len(query), t.dim)
	}

	best := &candidates{}
	tau := func() float64 {
		if best.Len() < k {
			return math.Inf(1)
		}
		return (*best)[0].dist
	}

	var visit func(n *vpNode)
	visit = func(n *vpNode) {
		if n == nil {
			return
		}
		cos := dot(query, t.vecs[n.row])
		d := chord(cos)
		c := candidate{row: n.row, cos: cos, dist: d}
		if best.Len() < k {
			heap.Push(best, c)
		} else if c.before((*best)[0]) {
			(*best)[0] = c
			heap.Fix(best, 0)
		}

		if d <= n.thr {
			if d-tau() <= n.thr+pruneSlack {
				visit(n.inside)
			}
			if d+tau() >= n.thr-pruneSlack {
				visit(n.outside)
			}
		} else {
			if d+tau() >= n.thr-pruneSlack {
				visit(n.outside)
			}
			if d-tau() <= n.thr+pruneSlack {
				visit(n.inside)
			}
		}
	}
	visit(t.root)

	found := []candidate(*best)
	sort.Slice(found, func(a, b int) bool { return found[a].before(found[b]) })
	rows := make([]int, len(found))
	scores := make([]float64, len(found))
	for i, c := range found {
		rows[i] = c.row
		scores[i] = c.cos
	}
	return rows, scores, nil
}

func (t *vpIndex) Len() int { return len(t.vecs) }

func (t *vpIndex) Close() error {
	t.root = nil
	return nil
}

type candidate struct {
	row  int
	cos  float64
	dist float64
}

// before orders by descending cosine, then ascending row.
func (c candidate) before(o candidate) bool {
	if c.cos != o.cos {
		return c.cos > o.cos
	}
	return c.row < o.row
}

// candidates is a max-heap with the worst candidate at the root.
type candidates []candidate

func (h candidates) Len() int           { return len(h) }
func (h candidates) Less(i, j int) bool { return h[j].before(h[i]) }
func (h candidates) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidates) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidates) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}
