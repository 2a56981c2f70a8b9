package classifier

import "math"

// linkageClusters runs complete-linkage agglomerative clustering over the
// given member indices, merging until the closest pair of clusters is
// further apart than cutoff. Member slices come back with ascending indices.
// Deterministic: merges pick the lexicographically smallest pair on ties.
func linkageClusters(points [][]float64, members []int, cutoff float64) [][]int {
	clusters := make([][]int, len(members))
	for i, m := range members {
		clusters[i] = []int{m}
	}

	for len(clusters) > 1 {
		bestA, bestB := -1, -1
		bestDist := math.Inf(1)
		for a := 0; a < len(clusters); a++ {
			for b := a + 1; b < len(clusters); b++ {
				if d := completeLinkage(points, clusters[a], clusters[b]); d < bestDist {
					bestA, bestB, bestDist = a, b, d
				}
			}
		}
		if bestDist > cutoff {
			break
		}
		merged := mergeSorted(clusters[bestA], clusters[bestB])
		clusters[bestA] = merged
		clusters = append(clusters[:bestB], clusters[bestB+1:]...)
	}

	return clusters
}

// completeLinkage is the maximum pairwise distance between two clusters.
func completeLinkage(points [][]float64, a, b []int) float64 {
	max := 0.0
	for _, i := range a {
		for _, j := range b {
			if d := euclidean(points[i], points[j]); d > max {
				max = d
			}
		}
	}
	return max
}

func mergeSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
