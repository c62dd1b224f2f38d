// Package visibility computes which users and gift ideas a viewer may see.
//
// The rule is deliberately asymmetric: a viewer with no group tags sees
// everyone, and a user with no group tags is seen by everyone. Restriction
// only activates once a viewer carries at least one tag, and then admits
// exactly the users sharing a tag plus all untagged users.
package visibility

import (
	"sort"
	"strings"

	"giftmanager/api/internal/store"
)

// VisibleUsers returns the subset of all that viewer may see, ordered by
// lowercased full name with username as tiebreak. The viewer is included in
// their own result (they always share every group with themselves).
func VisibleUsers(viewer store.User, all []store.User) []store.User {
	visible := make([]store.User, 0, len(all))
	for _, u := range all {
		if CanSee(viewer, u) {
			visible = append(visible, u)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		a := strings.ToLower(visible[i].FullName)
		b := strings.ToLower(visible[j].FullName)
		if a != b {
			return a < b
		}
		return strings.ToLower(visible[i].Username) < strings.ToLower(visible[j].Username)
	})
	return visible
}

// CanSee reports whether viewer may see target.
func CanSee(viewer, target store.User) bool {
	if viewer.Unrestricted() || target.Unrestricted() {
		return true
	}
	for _, g := range viewer.Groups {
		if target.InGroup(g) {
			return true
		}
	}
	return false
}

// VisibleIdeas returns the ideas whose recipient is visible to the viewer.
func VisibleIdeas(viewer store.User, ideas []store.GiftIdea, all []store.User) []store.GiftIdea {
	visible := make(map[string]bool, len(all))
	for _, u := range VisibleUsers(viewer, all) {
		visible[strings.ToLower(u.Username)] = true
	}

	result := make([]store.GiftIdea, 0, len(ideas))
	for _, idea := range ideas {
		if visible[strings.ToLower(idea.ForUser)] {
			result = append(result, idea)
		}
	}
	return result
}
