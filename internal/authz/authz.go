// Package authz holds the per-idea authorization rules.
package authz

import "giftmanager/api/internal/store"

// CanMutate reports whether username may edit, delete, or reprioritize the
// idea: permitted for the author and for the intended recipient, nobody else.
func CanMutate(username string, idea store.GiftIdea) bool {
	return store.SameUser(idea.AddedBy, username) || store.SameUser(idea.ForUser, username)
}

// CanMarkBought reports whether username may mark the idea bought. Any
// authenticated user may buy an idea that nobody has claimed yet; the
// first buyer wins.
func CanMarkBought(username string, idea store.GiftIdea) bool {
	return !idea.Bought()
}

// CanUnmarkBought reports whether username may clear the bought state. Only
// the recorded buyer may do so; anyone else gets a rejection and no mutation.
func CanUnmarkBought(username string, idea store.GiftIdea) bool {
	return idea.BoughtBy != nil && store.SameUser(*idea.BoughtBy, username)
}
