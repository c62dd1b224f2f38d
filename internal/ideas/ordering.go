// Package ideas holds the pure helpers for gift idea collections: display
// ordering and id assignment.
package ideas

import (
	"sort"

	"giftmanager/api/internal/store"
)

// Order returns a copy of ideas sorted by (priority, id) ascending, with
// absent-priority ideas after every prioritized one. The key is a total
// order, so the result is deterministic for any permutation of the input.
func Order(list []store.GiftIdea) []store.GiftIdea {
	ordered := make([]store.GiftIdea, len(list))
	copy(ordered, list)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := effectivePriority(ordered[i]), effectivePriority(ordered[j])
		if pi != pj {
			return pi < pj
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

func effectivePriority(idea store.GiftIdea) int64 {
	if idea.Priority == nil {
		// Sorts after any real priority.
		return int64(1) << 62
	}
	return int64(*idea.Priority)
}

// NextID returns the id for a newly added idea: one past the current maximum,
// so the first idea in an empty collection gets id 1.
func NextID(list []store.GiftIdea) int64 {
	var max int64
	for _, idea := range list {
		if idea.ID > max {
			max = idea.ID
		}
	}
	return max + 1
}

// FindByID returns the index of the idea with the given id, or -1.
func FindByID(list []store.GiftIdea, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
