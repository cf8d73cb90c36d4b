package memory

import (
	"sort"

	"github.com/rbaliyan/workspace-mailbox/store"
)

// sortMessages orders messages newest first, breaking created_at ties by
// descending id so equal timestamps still yield a stable order.
func sortMessages(msgs []*store.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// dedupeIDs returns ids in first-seen order without duplicates.
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
