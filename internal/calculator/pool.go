package calculator

import "github.com/shopspring/decimal"

// PoolCost returns the combined cost of a shared pool: unitPrice × reserved.
func PoolCost(unitPrice decimal.Decimal, reserved int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(reserved)))
}

// PoolShare returns what each current member of a pool owes.
//
// The pool cost is split evenly across memberCount, the size of the
// membership set right now. Every join or leave therefore changes every
// member's share; shares are never frozen at join time.
// An empty pool has no share.
func PoolShare(unitPrice decimal.Decimal, reserved, memberCount int) decimal.Decimal {
	if memberCount <= 0 || reserved <= 0 {
		return decimal.Zero
	}
	return PoolCost(unitPrice, reserved).Div(decimal.NewFromInt(int64(memberCount)))
}
