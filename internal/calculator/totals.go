// Package calculator derives money from allocation state: shared pool
// shares, per-participant totals and settle-up transfers.
package calculator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tabsplit/internal/models"
)

// ParticipantTotal is one participant's share of a bill.
type ParticipantTotal struct {
	ParticipantID   string
	ParticipantName string
	IsPayer         bool

	// ExclusiveTotal is Σ claim.Quantity × UnitPrice over the participant's claims.
	ExclusiveTotal decimal.Decimal

	// SharedTotal is Σ PoolShare over pools the participant is a member of.
	SharedTotal decimal.Decimal

	// GrandTotal is ExclusiveTotal + SharedTotal.
	GrandTotal decimal.Decimal
}

// BillTotals is the result of ComputeTotals.
type BillTotals struct {
	BillID   string
	Currency string

	// Participants are listed in the order they joined the bill.
	Participants []ParticipantTotal

	// TotalBill is Σ UnitPrice × Quantity over all items, regardless of
	// how much has been claimed.
	TotalBill decimal.Decimal

	// AllocatedTotal is Σ ExclusiveTotal plus the full cost of every pool
	// that has members. Pool costs are added undivided, so a fully
	// allocated bill has AllocatedTotal == TotalBill exactly even when
	// member shares repeat.
	AllocatedTotal decimal.Decimal

	// UnallocatedTotal is TotalBill − AllocatedTotal.
	UnallocatedTotal decimal.Decimal
}

// ComputeTotals computes per-participant totals from one bill snapshot.
//
// Algorithm:
//   - exclusive: each claim adds Quantity × UnitPrice to its participant
//   - shared: each pool's cost is divided by its current member count and
//     added to every member
//   - allocated: exclusive totals plus each member-held pool's whole cost
//   - bill total: every item's line total, allocated or not
func ComputeTotals(snap *models.BillSnapshot) (*BillTotals, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot cannot be nil")
	}

	items := make(map[string]models.Item, len(snap.Bill.Items))
	totalBill := decimal.Zero
	for _, item := range snap.Bill.Items {
		items[item.ID] = item
		totalBill = totalBill.Add(item.LineTotal())
	}

	// Initialize totals for all participants
	byID := make(map[string]*ParticipantTotal, len(snap.Bill.Participants))
	result := make([]ParticipantTotal, len(snap.Bill.Participants))
	for i, p := range snap.Bill.Participants {
		result[i] = ParticipantTotal{
			ParticipantID:   p.ID,
			ParticipantName: p.Name,
			IsPayer:         p.IsPayer,
			ExclusiveTotal:  decimal.Zero,
			SharedTotal:     decimal.Zero,
		}
		byID[p.ID] = &result[i]
	}

	for _, c := range snap.Claims {
		item, ok := items[c.ItemID]
		if !ok {
			return nil, fmt.Errorf("claim %s references unknown item %s", c.ID, c.ItemID)
		}
		pt, ok := byID[c.ParticipantID]
		if !ok {
			return nil, fmt.Errorf("claim %s references unknown participant %s", c.ID, c.ParticipantID)
		}
		pt.ExclusiveTotal = pt.ExclusiveTotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(c.Quantity))))
	}

	memberCount := make(map[string]int)
	for _, m := range snap.Members {
		memberCount[m.ItemID]++
	}
	for _, m := range snap.Members {
		item, ok := items[m.ItemID]
		if !ok {
			return nil, fmt.Errorf("membership %s references unknown item %s", m.ID, m.ItemID)
		}
		pt, ok := byID[m.ParticipantID]
		if !ok {
			return nil, fmt.Errorf("membership %s references unknown participant %s", m.ID, m.ParticipantID)
		}
		share := PoolShare(item.UnitPrice, item.PoolReserved, memberCount[m.ItemID])
		pt.SharedTotal = pt.SharedTotal.Add(share)
	}

	allocated := decimal.Zero
	for i := range result {
		result[i].GrandTotal = result[i].ExclusiveTotal.Add(result[i].SharedTotal)
		allocated = allocated.Add(result[i].ExclusiveTotal)
	}
	for itemID := range memberCount {
		item := items[itemID]
		allocated = allocated.Add(PoolCost(item.UnitPrice, item.PoolReserved))
	}

	return &BillTotals{
		BillID:           snap.Bill.ID,
		Currency:         snap.Bill.Currency,
		Participants:     result,
		TotalBill:        totalBill,
		AllocatedTotal:   allocated,
		UnallocatedTotal: totalBill.Sub(allocated),
	}, nil
}
