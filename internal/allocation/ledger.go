package allocation

import (
	"fmt"

	"github.com/mmynk/tabsplit/internal/models"
)

// ExclusiveClaimed returns Σ claim.Quantity over the item's claims.
func ExclusiveClaimed(state *models.ItemState) int {
	total := 0
	for _, c := range state.Claims {
		total += c.Quantity
	}
	return total
}

// Remaining returns the quantity still available to claim:
// Quantity − Σ claims − PoolReserved.
//
// It is always recomputed from the state read in the current transaction.
func Remaining(state *models.ItemState) int {
	return state.Item.Quantity - ExclusiveClaimed(state) - state.Item.PoolReserved
}

// checkConservation verifies 0 ≤ claimed + reserved ≤ Quantity for the state
// a change would produce. It guards every write.
func checkConservation(state *models.ItemState) error {
	claimed := ExclusiveClaimed(state)
	reserved := state.Item.PoolReserved
	if claimed < 0 || reserved < 0 || claimed+reserved > state.Item.Quantity {
		return fmt.Errorf("%w: item %s would allocate %d claimed + %d pooled of %d",
			ErrInsufficientQuantity, state.Item.ID, claimed, reserved, state.Item.Quantity)
	}
	if reserved > 0 && len(state.Members) == 0 {
		return fmt.Errorf("%w: item %s: pool of %d units without members", ErrInconsistentState, state.Item.ID, reserved)
	}
	if reserved == 0 && len(state.Members) > 0 {
		return fmt.Errorf("%w: item %s: %d pool members without a reservation", ErrInconsistentState, state.Item.ID, len(state.Members))
	}
	return nil
}
