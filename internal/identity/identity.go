// Package identity maps external login claims onto local user records.
package identity

import (
	"strings"

	"giftmanager/api/internal/store"
)

// MatchConfig describes which incoming claims are compared against
// which user fields. The primary pair is tried first for every user,
// then the secondary pair as a fallback.
type MatchConfig struct {
	PrimaryClaim   string
	PrimaryField   string
	SecondaryClaim string
	SecondaryField string
}

// DefaultMatchConfig matches the subject claim against usernames and
// falls back to email addresses.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		PrimaryClaim:   "preferred_username",
		PrimaryField:   "username",
		SecondaryClaim: "email",
		SecondaryField: "email",
	}
}

// Match finds the local user the given claims belong to. Comparison is
// case-insensitive. It returns false when no claim value matches any
// user.
func Match(cfg MatchConfig, claims map[string]string, users []store.User) (store.User, bool) {
	if u, ok := matchField(claims[cfg.PrimaryClaim], cfg.PrimaryField, users); ok {
		return u, true
	}
	return matchField(claims[cfg.SecondaryClaim], cfg.SecondaryField, users)
}

func matchField(value, field string, users []store.User) (store.User, bool) {
	if value == "" {
		return store.User{}, false
	}
	for _, u := range users {
		if strings.EqualFold(fieldValue(u, field), value) {
			return u, true
		}
	}
	return store.User{}, false
}

func fieldValue(u store.User, field string) string {
	switch field {
	case "username":
		return u.Username
	case "email":
		return u.Email
	case "fullname":
		return u.FullName
	default:
		return ""
	}
}
