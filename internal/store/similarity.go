package store

import (
	"math"
	"sort"
)

// zeroNormEpsilon replaces a zero norm product so similarity tends to 0.
const zeroNormEpsilon = 1e-8

// norm returns the Euclidean length of v.
func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes v·q / (‖v‖‖q‖). qNorm is passed in so it is
// computed once per query.
func cosineSimilarity(v, q []float32, qNorm float64) float64 {
	var dot float64
	for i := range v {
		dot += float64(v[i]) * float64(q[i])
	}
	denom := norm(v) * qNorm
	if denom == 0 {
		denom = zeroNormEpsilon
	}
	return dot / denom
}

// rankExact scores docs against q and returns the best topK. Equal scores
// keep their input order.
func rankExact(docs []*Document, q []float32, topK int) []Document {
	if topK <= 0 || len(docs) == 0 {
		return []Document{}
	}

	qNorm := norm(q)
	for _, d := range docs {
		d.Score = cosineSimilarity(d.Embedding, q, qNorm)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})

	n := min(topK, len(docs))
	results := make([]Document, n)
	for i := range n {
		results[i] = *docs[i]
	}
	return results
}
