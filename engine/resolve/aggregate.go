package resolve

import "github.com/overdrivelabs/dtcpipe/engine/scoring"

// evidence is the shared per-entity aggregate Phase B produces for any
// fingerprint group: how many chunks attested it, and the mean
// trust/relevance those chunks carried.
type evidence struct {
	EvidenceCount int
	AvgTrust      float64
	AvgRelevance  float64
}

func aggregate[T any](items []T, trust, relevance func(T) float64) evidence {
	var sumTrust, sumRelevance float64
	for _, item := range items {
		sumTrust += trust(item)
		sumRelevance += relevance(item)
	}
	n := len(items)
	if n == 0 {
		return evidence{}
	}
	return evidence{
		EvidenceCount: n,
		AvgTrust:      sumTrust / float64(n),
		AvgRelevance:  sumRelevance / float64(n),
	}
}

// causeAggregate extends evidence with the empirical probability weight
// Phase B defines for cause entities.
type causeAggregate struct {
	evidence
	ProbabilityWeight float64
}

func aggregateCauses(items []stagedCause) causeAggregate {
	ev := aggregate(items, func(c stagedCause) float64 { return c.Trust }, func(c stagedCause) float64 { return c.Relevance })
	return causeAggregate{evidence: ev, ProbabilityWeight: scoring.ProbabilityWeight(ev.EvidenceCount)}
}
