package search

import (
	"sort"

	"github.com/google/uuid"
)

// RRFK damps the contribution of lower ranks in reciprocal rank fusion.
const RRFK = 60

// Default fusion weights.
const (
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

// Weights scale each leg's reciprocal rank contribution.
type Weights struct {
	Vector  float64
	Keyword float64
}

// DefaultWeights favors semantic over lexical similarity.
func DefaultWeights() Weights {
	return Weights{Vector: DefaultVectorWeight, Keyword: DefaultKeywordWeight}
}

// rrf is the reciprocal rank term for a 1-based rank.
func rrf(rank int) float64 {
	return 1.0 / float64(RRFK+rank)
}

// Fuse combines two ranked lists with weighted reciprocal rank fusion.
// A result absent from one list contributes nothing for that list. The
// union is sorted by fused score, descending, and truncated to limit.
// Ties keep first-seen order, vector results first.
func Fuse(vector, keyword []Result, w Weights, limit int) []Result {
	byID := make(map[uuid.UUID]int, len(vector)+len(keyword))
	fused := make([]Result, 0, len(vector)+len(keyword))

	add := func(r Result, term float64, isVector bool) {
		idx, ok := byID[r.ID]
		if !ok {
			merged := r
			merged.Score = 0
			merged.VectorScore, merged.KeywordScore = nil, nil
			fused = append(fused, merged)
			idx = len(fused) - 1
			byID[r.ID] = idx
		}
		fused[idx].Score += term
		if isVector {
			fused[idx].VectorScore = r.VectorScore
		} else {
			fused[idx].KeywordScore = r.KeywordScore
		}
	}

	for i, r := range vector {
		add(r, w.Vector*rrf(i+1), true)
	}
	for i, r := range keyword {
		add(r, w.Keyword*rrf(i+1), false)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}
