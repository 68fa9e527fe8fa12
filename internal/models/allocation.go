package models

import (
	"slices"
)

// Claim is an exclusive allocation: Quantity units of ItemID belong to
// ParticipantID. Several claims for the same pair add up.
type Claim struct {
	ID            string
	BillID        string
	ItemID        string
	ParticipantID string
	Quantity      int
	CreatedAt     int64
}

// SharedPoolMembership places a participant in an item's shared pool.
type SharedPoolMembership struct {
	ID            string
	ItemID        string
	ParticipantID string

	// JoinedAt is the Unix time in nanoseconds. Members are listed in join order.
	JoinedAt int64
}

// ItemState is the full allocation state of one item, read inside a single
// store transaction.
type ItemState struct {
	Item Item

	// BillLocked mirrors the owning bill's Locked flag at read time.
	BillLocked bool

	// Version increments on every persisted change to the item. Stores use
	// it for compare-and-set.
	Version int64

	Claims  []Claim
	Members []SharedPoolMembership
}

// Member returns the membership for participantID, if any.
func (s *ItemState) Member(participantID string) (SharedPoolMembership, bool) {
	for _, m := range s.Members {
		if m.ParticipantID == participantID {
			return m, true
		}
	}
	return SharedPoolMembership{}, false
}

// Claim returns the claim with the given ID, if any.
func (s *ItemState) Claim(claimID string) (Claim, bool) {
	for _, c := range s.Claims {
		if c.ID == claimID {
			return c, true
		}
	}
	return Claim{}, false
}

// MemberIDs returns participant IDs of pool members in join order.
func (s *ItemState) MemberIDs() []string {
	ids := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		ids = append(ids, m.ParticipantID)
	}
	return ids
}

// ItemChange is the mutation one arbitrated operation writes back. Exactly
// the non-zero fields are applied; PoolReserved is always written.
type ItemChange struct {
	AddClaim       *Claim
	RemoveClaimID  string
	AddMember      *SharedPoolMembership
	RemoveMemberID string // membership ID, not participant ID

	// PoolReserved is the item's reservation after the change.
	PoolReserved int
}

// Apply returns a copy of s with change applied and Version bumped. A nil
// change returns an unmodified copy.
func (s *ItemState) Apply(change *ItemChange) *ItemState {
	next := &ItemState{
		Item:       s.Item,
		BillLocked: s.BillLocked,
		Version:    s.Version,
		Claims:     slices.Clone(s.Claims),
		Members:    slices.Clone(s.Members),
	}
	if change == nil {
		return next
	}

	if change.AddClaim != nil {
		next.Claims = append(next.Claims, *change.AddClaim)
	}
	if change.RemoveClaimID != "" {
		next.Claims = slices.DeleteFunc(next.Claims, func(c Claim) bool {
			return c.ID == change.RemoveClaimID
		})
	}
	if change.AddMember != nil {
		next.Members = append(next.Members, *change.AddMember)
	}
	if change.RemoveMemberID != "" {
		next.Members = slices.DeleteFunc(next.Members, func(m SharedPoolMembership) bool {
			return m.ID == change.RemoveMemberID
		})
	}
	next.Item.PoolReserved = change.PoolReserved
	next.Version++
	return next
}

// BillSnapshot is a point-in-time view of a bill and all of its allocations.
type BillSnapshot struct {
	Bill    Bill
	Claims  []Claim
	Members []SharedPoolMembership
}
