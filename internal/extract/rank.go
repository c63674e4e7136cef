package extract

import (
	"sort"

	"github.com/sells-group/leadscout/internal/model"
)

// DedupLeads keeps the first lead for every identity key.
func DedupLeads(leads []model.Lead) []model.Lead {
	seen := make(map[string]struct{}, len(leads))
	out := make([]model.Lead, 0, len(leads))
	for _, l := range leads {
		k := l.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, l)
	}
	return out
}

// RankLeads sorts in place by confidence, then score, then recency, all
// descending. Equal leads keep their collection order.
func RankLeads(leads []model.Lead) {
	sort.SliceStable(leads, func(i, j int) bool {
		a, b := leads[i], leads[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.CollectedAt.After(b.CollectedAt)
	})
}
