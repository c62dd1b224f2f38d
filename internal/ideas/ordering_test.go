package ideas

import (
	"math/rand/v2"
	"testing"

	"giftmanager/api/internal/store"
)

func intp(v int) *int { return &v }

func ids(list []store.GiftIdea) []int64 {
	out := make([]int64, len(list))
	for i, idea := range list {
		out[i] = idea.ID
	}
	return out
}

func TestOrder(t *testing.T) {
	list := []store.GiftIdea{
		{ID: 4},                   // no priority, sorts last by id
		{ID: 2, Priority: intp(5)},
		{ID: 3},                   // no priority
		{ID: 7, Priority: intp(1)},
		{ID: 1, Priority: intp(5)}, // priority tie with id 2, id breaks it
	}

	got := ids(Order(list))
	want := []int64{7, 1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestOrderIdempotentAndStableUnderPermutation(t *testing.T) {
	list := []store.GiftIdea{
		{ID: 1, Priority: intp(3)},
		{ID: 2, Priority: intp(3)},
		{ID: 3},
		{ID: 4, Priority: intp(1)},
		{ID: 5},
		{ID: 6, Priority: intp(2)},
	}

	base := ids(Order(list))

	if got := ids(Order(Order(list))); !equal(got, base) {
		t.Errorf("order not idempotent: %v vs %v", got, base)
	}

	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 20; trial++ {
		shuffled := make([]store.GiftIdea, len(list))
		copy(shuffled, list)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		if got := ids(Order(shuffled)); !equal(got, base) {
			t.Fatalf("order depends on input permutation: %v vs %v", got, base)
		}
	}
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	list := []store.GiftIdea{{ID: 2}, {ID: 1}}
	_ = Order(list)
	if list[0].ID != 2 {
		t.Error("Order mutated its input")
	}
}

func TestNextID(t *testing.T) {
	if got := NextID(nil); got != 1 {
		t.Errorf("NextID(empty) = %d, want 1", got)
	}
	list := []store.GiftIdea{{ID: 3}, {ID: 7}, {ID: 1}}
	if got := NextID(list); got != 8 {
		t.Errorf("NextID = %d, want 8", got)
	}
}

func TestFindByID(t *testing.T) {
	list := []store.GiftIdea{{ID: 3}, {ID: 7}}
	if got := FindByID(list, 7); got != 1 {
		t.Errorf("FindByID(7) = %d, want 1", got)
	}
	if got := FindByID(list, 99); got != -1 {
		t.Errorf("FindByID(99) = %d, want -1", got)
	}
}

func equal(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
