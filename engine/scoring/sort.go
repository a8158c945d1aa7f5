package scoring

import "sort"

// RankedEntity is the minimal shape SortEntities needs to apply the
// resolve ordering: score desc, evidence_count desc, avg_trust desc,
// avg_relevance desc, entity_id asc. Reproducible across runs given
// identical inputs.
type RankedEntity struct {
	EntityID      string
	Score         float64
	EvidenceCount int
	AvgTrust      float64
	AvgRelevance  float64
}

// SortEntities orders entities in place per the tie-break chain Resolve's
// Phase C requires.
func SortEntities(entities []RankedEntity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.EvidenceCount != b.EvidenceCount {
			return a.EvidenceCount > b.EvidenceCount
		}
		if a.AvgTrust != b.AvgTrust {
			return a.AvgTrust > b.AvgTrust
		}
		if a.AvgRelevance != b.AvgRelevance {
			return a.AvgRelevance > b.AvgRelevance
		}
		return a.EntityID < b.EntityID
	})
}
