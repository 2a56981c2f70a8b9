// Package classifier assigns traders to behavioral archetypes in discrete,
// versioned rounds. Each round reads an immutable snapshot set, so it never
// contends with the aggregation engine.
package classifier

import (
	"fmt"
	"math"
	"sort"
	"time"

	"fx-cortex/internal/domain"
)

// Config tunes a classifier round. All distances are in z-scored feature
// space.
type Config struct {
	// Eps is the density-pass neighborhood radius.
	Eps float64

	// MinPts is the minimum neighborhood size for a density-core point.
	// Traders in low-density regions are left unclassified, not forced
	// into a nearest cluster.
	MinPts int

	// LinkageCutoff is the complete-linkage merge cutoff for sub-archetypes
	// within one density group.
	LinkageCutoff float64

	// SimilarityTolerance is the hysteresis band: when a trader's two
	// nearest clusters are closer than this, the previous round's archetype
	// wins if it is one of the two candidates.
	SimilarityTolerance float64
}

// DefaultConfig returns tunables that behave sensibly on z-scored vectors.
func DefaultConfig() Config {
	return Config{
		Eps:                 1.2,
		MinPts:              3,
		LinkageCutoff:       1.0,
		SimilarityTolerance: 0.15,
	}
}

// Classifier runs rounds and carries the previous round's assignments for
// hysteresis. Not safe for concurrent use; the scheduler serializes rounds.
type Classifier struct {
	cfg  Config
	prev map[int64]string
}

// New creates a Classifier.
func New(cfg Config) *Classifier {
	if cfg.MinPts <= 0 {
		cfg.MinPts = DefaultConfig().MinPts
	}
	if cfg.Eps <= 0 {
		cfg.Eps = DefaultConfig().Eps
	}
	if cfg.LinkageCutoff <= 0 {
		cfg.LinkageCutoff = DefaultConfig().LinkageCutoff
	}
	return &Classifier{
		cfg:  cfg,
		prev: make(map[int64]string),
	}
}

// Classify runs one round over the latest snapshot per trader and returns
// one label per classified trader. Unclassified (low-density) traders get
// no label. Deterministic: the same snapshot set and model version always
// produce the same partition, since there is no randomness and all iteration
// orders are fixed by sorting on trader id.
func (c *Classifier) Classify(snapshots []*domain.FeatureSnapshot, modelVersion string, now time.Time) []*domain.ArchetypeLabel {
	latest := latestPerTrader(snapshots)
	if len(latest) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	points := make([][]float64, len(ids))
	for i, id := range ids {
		points[i] = latest[id].Features.Values()
	}
	zscore(points)

	// Stage 1: density pass. Noise points stay unclassified this round.
	groups := dbscan(points, c.cfg.Eps, c.cfg.MinPts)

	// Stage 2: hierarchical sub-archetypes within each density group.
	clusters := c.subdivide(points, groups)
	if len(clusters) == 0 {
		return nil
	}

	centroids := make([][]float64, len(clusters))
	names := make([]string, len(clusters))
	for ci, cl := range clusters {
		centroids[ci] = centroid(points, cl.members)
		names[ci] = cl.name
	}

	memberCluster := make(map[int]int) // point index -> cluster index
	for ci, cl := range clusters {
		for _, m := range cl.members {
			memberCluster[m] = ci
		}
	}

	assignedAt := now.UnixMilli()
	labels := make([]*domain.ArchetypeLabel, 0, len(memberCluster))
	for i, id := range ids {
		ci, ok := memberCluster[i]
		if !ok {
			continue // unclassified: no label this round
		}

		archetype := names[ci]
		confidence := 1.0
		if len(clusters) > 1 {
			dAssigned := euclidean(points[i], centroids[ci])
			otherIdx, dOther := nearestOther(points[i], centroids, ci)
			confidence = dOther / (dAssigned + dOther)
			if math.IsNaN(confidence) {
				confidence = 1.0
			}
			// Hysteresis: within the tolerance band, a sticky previous
			// archetype beats flapping between two near-equal clusters.
			if math.Abs(dOther-dAssigned) <= c.cfg.SimilarityTolerance {
				if prev, has := c.prev[id]; has && (prev == names[ci] || prev == names[otherIdx]) {
					archetype = prev
				}
			}
		}

		labels = append(labels, &domain.ArchetypeLabel{
			TraderID:          id,
			Archetype:         archetype,
			ClusterConfidence: confidence,
			AssignedAt:        assignedAt,
			ModelVersion:      modelVersion,
		})
	}

	for _, l := range labels {
		c.prev[l.TraderID] = l.Archetype
	}
	return labels
}

type cluster struct {
	name    string
	members []int
}

// subdivide runs complete-linkage agglomeration within each density group
// and names the resulting sub-archetypes deterministically: groups and
// sub-clusters are both ordered by their smallest member index.
func (c *Classifier) subdivide(points [][]float64, groups []int) []cluster {
	byGroup := make(map[int][]int)
	for i, g := range groups {
		if g < 0 {
			continue
		}
		byGroup[g] = append(byGroup[g], i)
	}

	groupIDs := make([]int, 0, len(byGroup))
	for g := range byGroup {
		groupIDs = append(groupIDs, g)
	}
	sort.Slice(groupIDs, func(i, j int) bool {
		return byGroup[groupIDs[i]][0] < byGroup[groupIDs[j]][0]
	})

	var out []cluster
	for gi, g := range groupIDs {
		subs := linkageClusters(points, byGroup[g], c.cfg.LinkageCutoff)
		sort.Slice(subs, func(i, j int) bool { return subs[i][0] < subs[j][0] })
		for si, members := range subs {
			out = append(out, cluster{
				name:    archetypeName(gi+1, si+1),
				members: members,
			})
		}
	}
	return out
}

func archetypeName(group, sub int) string {
	return fmt.Sprintf("A%d.%d", group, sub)
}

// latestPerTrader keeps the snapshot with the highest input watermark per
// trader (last-writer-wins, matching the snapshot store contract).
func latestPerTrader(snapshots []*domain.FeatureSnapshot) map[int64]*domain.FeatureSnapshot {
	latest := make(map[int64]*domain.FeatureSnapshot, len(snapshots))
	for _, s := range snapshots {
		cur, ok := latest[s.TraderID]
		if !ok || s.InputWatermark > cur.InputWatermark {
			latest[s.TraderID] = s
		}
	}
	return latest
}

// zscore normalizes each dimension in place against the round population.
// Constant dimensions are zeroed so they carry no distance.
func zscore(points [][]float64) {
	if len(points) == 0 {
		return
	}
	dims := len(points[0])
	n := float64(len(points))
	for d := 0; d < dims; d++ {
		mean := 0.0
		for _, p := range points {
			mean += p[d]
		}
		mean /= n

		variance := 0.0
		for _, p := range points {
			diff := p[d] - mean
			variance += diff * diff
		}
		std := math.Sqrt(variance / n)

		for _, p := range points {
			if std == 0 {
				p[d] = 0
			} else {
				p[d] = (p[d] - mean) / std
			}
		}
	}
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

func centroid(points [][]float64, members []int) []float64 {
	dims := len(points[members[0]])
	c := make([]float64, dims)
	for _, m := range members {
		for d, v := range points[m] {
			c[d] += v
		}
	}
	for d := range c {
		c[d] /= float64(len(members))
	}
	return c
}

func nearestOther(p []float64, centroids [][]float64, exclude int) (int, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i, c := range centroids {
		if i == exclude {
			continue
		}
		if d := euclidean(p, c); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}
