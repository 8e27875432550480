// Package clustering groups appearance embeddings into a small number of visual identities.
package clustering

import "math"

const maxIterations = 20

// sameTolerance is the per-component tolerance under which two vectors count as equal.
const sameTolerance = 1e-6

// Assign partitions vectors into at most k groups with Lloyd's k-means and returns one
// label per vector. Seeding is farthest-first from the first vector, so the result depends
// only on the input. Fewer than two vectors, k <= 1 or all-identical
// input yields all zeros.
func Assign(vectors [][]float32, k int) []int {
	labels := make([]int, len(vectors))
	n := len(vectors)
	if n <= 1 {
		return labels
	}
	k = max(1, min(k, n))
	if k == 1 || allSame(vectors) {
		return labels
	}

	centroids := seed(vectors, k)
	k = len(centroids)

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			if best := nearest(v, centroids); best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if iter > 0 && !changed {
			break
		}
		recompute(vectors, labels, centroids)
	}
	return canonical(labels)
}

// seed picks the first vector, then repeatedly the vector farthest from every centroid
// chosen so far (lowest index on ties). Seeding stops early once only duplicates remain.
func seed(vectors [][]float32, k int) [][]float64 {
	centroids := [][]float64{toFloat64(vectors[0])}
	for len(centroids) < k {
		pick, pickDist := -1, sameTolerance*sameTolerance
		for i, v := range vectors {
			d := math.Inf(1)
			for _, c := range centroids {
				d = math.Min(d, sqDist(v, c))
			}
			if d > pickDist {
				pick, pickDist = i, d
			}
		}
		if pick < 0 {
			break
		}
		centroids = append(centroids, toFloat64(vectors[pick]))
	}
	return centroids
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// recompute moves each centroid to the mean of its members. Empty clusters keep their
// previous position.
func recompute(vectors [][]float32, labels []int, centroids [][]float64) {
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for i := range sums {
		sums[i] = make([]float64, len(centroids[i]))
	}
	for i, v := range vectors {
		l := labels[i]
		counts[l]++
		for j := range sums[l] {
			if j < len(v) {
				sums[l][j] += float64(v[j])
			}
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		for j := range centroids[c] {
			centroids[c][j] = sums[c][j] / float64(counts[c])
		}
	}
}

func nearest(v []float32, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(v, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func sqDist(v []float32, c []float64) float64 {
	var s float64
	n := min(len(v), len(c))
	for i := 0; i < n; i++ {
		d := float64(v[i]) - c[i]
		s += d * d
	}
	for i := n; i < len(v); i++ {
		s += float64(v[i]) * float64(v[i])
	}
	for i := n; i < len(c); i++ {
		s += c[i] * c[i]
	}
	return s
}

func allSame(vectors [][]float32) bool {
	first := vectors[0]
	for _, v := range vectors[1:] {
		if len(v) != len(first) {
			return false
		}
		for j := range v {
			if math.Abs(float64(v[j])-float64(first[j])) > sameTolerance {
				return false
			}
		}
	}
	return true
}

// canonical renumbers labels in order of first appearance so equal partitions always
// produce equal label slices.
func canonical(labels []int) []int {
	remap := make(map[int]int)
	for i, l := range labels {
		m, ok := remap[l]
		if !ok {
			m = len(remap)
			remap[l] = m
		}
		labels[i] = m
	}
	return labels
}
