package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tabsplit/internal/models"
)

// ClaimRequest asks for Quantity units of an item for one participant.
type ClaimRequest struct {
	BillID        string
	ItemID        string
	ParticipantID string
	Quantity      int
}

// Validate checks the request before it reaches the store.
func (r ClaimRequest) Validate() error {
	if err := requireIDs(r.BillID, r.ItemID, r.ParticipantID); err != nil {
		return err
	}
	if r.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1, got %d", ErrInvalidArgument, r.Quantity)
	}
	return nil
}

// ReleaseClaimRequest gives back one of the participant's own claims.
type ReleaseClaimRequest struct {
	BillID        string
	ClaimID       string
	ParticipantID string
}

// Validate checks the request before it reaches the store.
func (r ReleaseClaimRequest) Validate() error {
	return requireIDs(r.BillID, r.ClaimID, r.ParticipantID)
}

// PoolInitRequest creates a shared pool of PoolSize units.
type PoolInitRequest struct {
	BillID        string
	ItemID        string
	ParticipantID string
	PoolSize      int
}

// Validate checks the request before it reaches the store.
func (r PoolInitRequest) Validate() error {
	if err := requireIDs(r.BillID, r.ItemID, r.ParticipantID); err != nil {
		return err
	}
	if r.PoolSize < 1 {
		return fmt.Errorf("%w: pool size must be at least 1, got %d", ErrInvalidArgument, r.PoolSize)
	}
	return nil
}

// PoolMemberRequest joins or leaves an item's shared pool.
type PoolMemberRequest struct {
	BillID        string
	ItemID        string
	ParticipantID string
}

// Validate checks the request before it reaches the store.
func (r PoolMemberRequest) Validate() error {
	return requireIDs(r.BillID, r.ItemID, r.ParticipantID)
}

func requireIDs(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: missing identifier", ErrInvalidArgument)
		}
	}
	return nil
}

// ClaimResult is returned by ClaimExclusive.
type ClaimResult struct {
	Claim     models.Claim
	Remaining int
}

// PoolResult describes a pool after InitSharedPool or JoinSharedPool.
type PoolResult struct {
	PoolReserved   int
	Members        []string // participant IDs in join order
	MemberCount    int
	PerMemberShare decimal.Decimal
}

// ItemAllocation is a read-only view of one item's allocation state.
type ItemAllocation struct {
	Item             models.Item
	Remaining        int
	ExclusiveClaimed int
	Claims           []models.Claim
	PoolMembers      []string
	PerMemberShare   decimal.Decimal
}

// BillAllocation is a bill with the allocation of each of its items, in
// receipt order.
type BillAllocation struct {
	Bill  models.Bill
	Items []ItemAllocation
}
