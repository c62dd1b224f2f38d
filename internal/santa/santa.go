// Package santa draws Secret Santa assignments for gift pools.
//
// An assignment is a single cycle over the participants, so everyone
// gives exactly one gift, receives exactly one gift, and nobody is
// assigned to themselves (for two or more participants).
package santa

import (
	"math/rand/v2"
	"sort"
	"strings"

	"giftmanager/api/internal/store"
)

// MinParticipants is the smallest pool that can be drawn.
const MinParticipants = 2

// Shuffle returns a random permutation of the given usernames. The
// input slice is not modified.
func Shuffle(usernames []string) []string {
	out := make([]string, len(usernames))
	copy(out, usernames)
	rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// Cycle maps each participant to the next one in the given order,
// wrapping the last participant around to the first. The result is a
// bijection with no fixed points whenever len(order) >= 2.
func Cycle(order []string) map[string]string {
	assignments := make(map[string]string, len(order))
	for i, giver := range order {
		assignments[giver] = order[(i+1)%len(order)]
	}
	return assignments
}

// ActivePools returns the sorted names of every pool that at least one
// user currently holds an assignment in. Pools have no standalone
// record; they exist exactly as long as assignments reference them.
func ActivePools(users []store.User) []string {
	seen := make(map[string]struct{})
	for _, u := range users {
		for pool := range u.AssignedPools {
			seen[pool] = struct{}{}
		}
	}
	pools := make([]string, 0, len(seen))
	for pool := range seen {
		pools = append(pools, pool)
	}
	sort.Strings(pools)
	return pools
}

// PoolMembers returns the usernames holding an assignment in the named
// pool, sorted case-insensitively.
func PoolMembers(users []store.User, pool string) []string {
	var members []string
	for _, u := range users {
		if _, ok := u.AssignedPools[pool]; ok {
			members = append(members, u.Username)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return strings.ToLower(members[i]) < strings.ToLower(members[j])
	})
	return members
}
