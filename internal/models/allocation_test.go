package models

import (
	"slices"
	"testing"
)

func TestItemStateApply(t *testing.T) {
	state := &ItemState{
		Item:    Item{ID: "i1", Quantity: 4, PoolReserved: 2},
		Version: 3,
		Claims:  []Claim{{ID: "c1", ItemID: "i1", ParticipantID: "p1", Quantity: 1}},
		Members: []SharedPoolMembership{{ID: "m1", ItemID: "i1", ParticipantID: "p1"}},
	}

	next := state.Apply(&ItemChange{
		AddClaim:       &Claim{ID: "c2", ItemID: "i1", ParticipantID: "p2", Quantity: 1},
		RemoveMemberID: "m1",
		PoolReserved:   0,
	})

	if next.Version != 4 {
		t.Errorf("Expected version 4, got %d", next.Version)
	}
	if next.Item.PoolReserved != 0 {
		t.Errorf("Expected pool released, got %d", next.Item.PoolReserved)
	}
	if len(next.Claims) != 2 {
		t.Fatalf("Expected 2 claims, got %d", len(next.Claims))
	}
	if len(next.Members) != 0 {
		t.Errorf("Expected no members, got %d", len(next.Members))
	}

	// The original is untouched.
	if state.Version != 3 || len(state.Claims) != 1 || len(state.Members) != 1 || state.Item.PoolReserved != 2 {
		t.Errorf("Apply modified its receiver: %+v", state)
	}
}

func TestItemStateApply_Nil(t *testing.T) {
	state := &ItemState{Item: Item{ID: "i1", Quantity: 2}, Version: 1}
	next := state.Apply(nil)
	if next.Version != 1 {
		t.Errorf("Expected version unchanged, got %d", next.Version)
	}
	if next == state {
		t.Error("Expected a copy")
	}
}

func TestItemStateLookups(t *testing.T) {
	state := &ItemState{
		Claims: []Claim{{ID: "c1", ParticipantID: "p1", Quantity: 2}},
		Members: []SharedPoolMembership{
			{ID: "m1", ParticipantID: "p2"},
			{ID: "m2", ParticipantID: "p3"},
		},
	}

	if c, ok := state.Claim("c1"); !ok || c.Quantity != 2 {
		t.Errorf("Claim(c1) = %+v, %v", c, ok)
	}
	if _, ok := state.Claim("missing"); ok {
		t.Error("Expected missing claim not to be found")
	}
	if m, ok := state.Member("p3"); !ok || m.ID != "m2" {
		t.Errorf("Member(p3) = %+v, %v", m, ok)
	}
	if _, ok := state.Member("p1"); ok {
		t.Error("Expected p1 not to be a member")
	}
	if got := state.MemberIDs(); !slices.Equal(got, []string{"p2", "p3"}) {
		t.Errorf("MemberIDs() = %v", got)
	}
}
