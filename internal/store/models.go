package store

import (
	"strings"
	"time"
)

// User is a household member. Username is the identity key and is compared
// case-insensitively everywhere.
type User struct {
	Username      string
	FullName      string
	Email         string
	PasswordHash  string
	Birthday      string
	Avatar        string
	Admin         bool
	Groups        []string
	AssignedPools map[string]string // pool name -> recipient username
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InGroup reports whether the user carries the given group tag.
func (u User) InGroup(group string) bool {
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Unrestricted reports whether the user has no group tags at all. Unrestricted
// users see everyone and are seen by everyone.
func (u User) Unrestricted() bool {
	return len(u.Groups) == 0
}

// SameUser compares two usernames under the case-insensitive identity rule.
func SameUser(a, b string) bool {
	return strings.EqualFold(a, b)
}

// GiftIdea is a gift suggestion recorded for a recipient. Value and Priority
// are genuinely optional; BoughtBy and DateBought are both nil or both set.
type GiftIdea struct {
	ID          int64
	ForUser     string // recipient the idea is for
	AddedBy     string // author
	Name        string
	Description string
	Link        string
	Value       *string
	Priority    *int
	BoughtBy    *string
	DateBought  *time.Time
	CreatedAt   time.Time
}

// Bought reports whether the idea has been claimed by a buyer.
func (i GiftIdea) Bought() bool {
	return i.BoughtBy != nil
}

// UserSummary is the visibility projection of a user: just enough to populate
// a recipient picker, nothing private.
type UserSummary struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
}
