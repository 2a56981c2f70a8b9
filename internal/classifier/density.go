package classifier

// dbscan is the density pass: it isolates well-separated behavior groups
// and marks low-density points as noise (-1) instead of forcing them into a
// nearest cluster. Deterministic: points are visited and expanded in index
// order.
func dbscan(points [][]float64, eps float64, minPts int) []int {
	const (
		unvisited = -2
		noise     = -1
	)

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	next := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		neighbors := regionQuery(points, i, eps)
		if len(neighbors) < minPts {
			labels[i] = noise
			continue
		}

		group := next
		next++
		labels[i] = group

		// Expand the cluster breadth-first; the queue only ever grows at
		// the tail, keeping expansion order deterministic.
		queue := append([]int(nil), neighbors...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == noise {
				labels[j] = group // border point
				continue
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = group
			jNeighbors := regionQuery(points, j, eps)
			if len(jNeighbors) >= minPts {
				queue = append(queue, jNeighbors...)
			}
		}
	}

	return labels
}

// regionQuery returns the indices (ascending) within eps of point i,
// including i itself.
func regionQuery(points [][]float64, i int, eps float64) []int {
	var neighbors []int
	for j := range points {
		if euclidean(points[i], points[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}
