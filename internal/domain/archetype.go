package domain

// ArchetypeLabel assigns a trader to a behavioral archetype for one
// classifier round. Stale labels are retained until a newer ModelVersion
// run completes for the trader. Traders the round leaves unclassified
// receive no label at all.
type ArchetypeLabel struct {
	TraderID          int64
	Archetype         string
	ClusterConfidence float64 // 0..1, margin between the two nearest clusters
	AssignedAt        int64   // Unix timestamp in milliseconds
	ModelVersion      string
}
