package visibility

import (
	"testing"

	"giftmanager/api/internal/store"
)

func user(name string, groups ...string) store.User {
	return store.User{Username: name, FullName: name, Groups: groups}
}

func usernames(users []store.User) []string {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	return names
}

func TestVisibleUsers(t *testing.T) {
	all := []store.User{
		user("alice", "fam"),
		user("bob"),
		user("carol", "friends"),
		user("dave", "fam", "friends"),
	}

	tests := []struct {
		name   string
		viewer store.User
		want   []string
	}{
		{
			name:   "groupless viewer sees everyone",
			viewer: user("bob"),
			want:   []string{"alice", "bob", "carol", "dave"},
		},
		{
			name:   "restricted viewer sees group mates and groupless users",
			viewer: user("alice", "fam"),
			want:   []string{"alice", "bob", "dave"},
		},
		{
			name:   "multi-group viewer unions both groups",
			viewer: user("dave", "fam", "friends"),
			want:   []string{"alice", "bob", "carol", "dave"},
		},
		{
			name:   "viewer in an empty group sees only groupless users",
			viewer: user("erin", "work"),
			want:   []string{"bob", "erin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := append([]store.User{}, all...)
			if tt.viewer.Username == "erin" {
				pool = append(pool, tt.viewer)
			}
			got := usernames(VisibleUsers(tt.viewer, pool))
			if len(got) != len(tt.want) {
				t.Fatalf("visible users = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("visible users = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestVisibleUsersEmptyStore(t *testing.T) {
	got := VisibleUsers(user("alice"), nil)
	if len(got) != 0 {
		t.Errorf("expected empty result, got %v", usernames(got))
	}
}

func TestGrouplessUserAlwaysVisible(t *testing.T) {
	groupless := user("bob")
	viewers := []store.User{
		user("alice", "fam"),
		user("carol", "friends", "work"),
		user("dave"),
	}
	for _, viewer := range viewers {
		if !CanSee(viewer, groupless) {
			t.Errorf("viewer %s (groups %v) should see groupless user", viewer.Username, viewer.Groups)
		}
	}
}

func TestVisibleUsersOrdering(t *testing.T) {
	all := []store.User{
		{Username: "zed", FullName: "aaron z"},
		{Username: "amy", FullName: "Aaron Z"},
		{Username: "bob", FullName: "Bea"},
	}
	got := usernames(VisibleUsers(user("zed"), all))
	// Case-insensitive full name, username tiebreak.
	want := []string{"amy", "zed", "bob"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestVisibleIdeas(t *testing.T) {
	all := []store.User{
		user("alice", "fam"),
		user("bob"),
		user("carol", "friends"),
	}
	ideas := []store.GiftIdea{
		{ID: 1, ForUser: "alice"},
		{ID: 2, ForUser: "bob"},
		{ID: 3, ForUser: "carol"},
		{ID: 4, ForUser: "Bob"}, // usernames are case-insensitive
	}

	got := VisibleIdeas(user("alice", "fam"), ideas, all)
	wantIDs := map[int64]bool{1: true, 2: true, 4: true}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d ideas, want %d", len(got), len(wantIDs))
	}
	for _, idea := range got {
		if !wantIDs[idea.ID] {
			t.Errorf("idea %d should not be visible", idea.ID)
		}
	}
}
