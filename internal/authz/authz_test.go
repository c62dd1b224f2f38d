package authz

import (
	"testing"
	"time"

	"giftmanager/api/internal/store"
)

func TestCanMutate(t *testing.T) {
	idea := store.GiftIdea{ID: 5, ForUser: "bob", AddedBy: "alice"}

	tests := []struct {
		username string
		want     bool
	}{
		{"alice", true},  // author
		{"bob", true},    // recipient
		{"Bob", true},    // case-insensitive identity
		{"ALICE", true},
		{"carol", false}, // neither
	}

	for _, tt := range tests {
		if got := CanMutate(tt.username, idea); got != tt.want {
			t.Errorf("CanMutate(%q) = %v, want %v", tt.username, got, tt.want)
		}
	}
}

func TestBuyFlow(t *testing.T) {
	idea := store.GiftIdea{ID: 5, ForUser: "bob", AddedBy: "alice"}

	// Anyone may buy an unclaimed idea, even a user with no relation to it.
	if !CanMarkBought("carol", idea) {
		t.Fatal("carol should be able to buy an unclaimed idea")
	}
	if CanUnmarkBought("carol", idea) {
		t.Fatal("nobody can un-buy an idea that was never bought")
	}

	buyer := "carol"
	now := time.Now()
	idea.BoughtBy = &buyer
	idea.DateBought = &now

	if CanMarkBought("alice", idea) {
		t.Error("already-bought idea must not be buyable again")
	}
	if CanUnmarkBought("alice", idea) {
		t.Error("only the buyer may unmark")
	}
	if !CanUnmarkBought("carol", idea) {
		t.Error("the buyer must be able to unmark")
	}
	if !CanUnmarkBought("CAROL", idea) {
		t.Error("buyer match is case-insensitive")
	}
}
