package calculator

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Transfer is an amount one participant owes another.
type Transfer struct {
	From   string // Participant who owes
	To     string // Participant who paid the restaurant
	Amount decimal.Decimal
}

var cent = decimal.New(1, -2)

// SettleUp lists what each participant owes the payer.
//
// The payer flag is informational, so transfers are only suggested when
// exactly one participant is marked as payer; otherwise SettleUp returns nil.
// Amounts are in cents and, together with the payer's own share, add up to
// AllocatedTotal rounded to cents.
func SettleUp(totals *BillTotals) []Transfer {
	if totals == nil {
		return nil
	}

	payer := ""
	for _, p := range totals.Participants {
		if !p.IsPayer {
			continue
		}
		if payer != "" {
			return nil
		}
		payer = p.ParticipantID
	}
	if payer == "" {
		return nil
	}

	shares := make([]decimal.Decimal, len(totals.Participants))
	for i, p := range totals.Participants {
		shares[i] = p.GrandTotal
	}
	amounts := splitCents(shares, totals.AllocatedTotal.Round(2))

	var transfers []Transfer
	for i, p := range totals.Participants {
		if p.ParticipantID == payer || amounts[i].IsZero() {
			continue
		}
		transfers = append(transfers, Transfer{From: p.ParticipantID, To: payer, Amount: amounts[i]})
	}
	return transfers
}

// splitCents rounds shares down to cents and hands the cents still missing
// from total to the shares with the largest remainders, earlier shares first
// on ties.
func splitCents(shares []decimal.Decimal, total decimal.Decimal) []decimal.Decimal {
	amounts := make([]decimal.Decimal, len(shares))
	order := make([]int, len(shares))
	sum := decimal.Zero
	for i, s := range shares {
		amounts[i] = s.RoundFloor(2)
		sum = sum.Add(amounts[i])
		order[i] = i
	}

	missing := int(total.Sub(sum).Div(cent).IntPart())
	missing = max(0, min(missing, len(shares)))

	slices.SortStableFunc(order, func(a, b int) int {
		return shares[b].Sub(amounts[b]).Cmp(shares[a].Sub(amounts[a]))
	})
	for _, i := range order[:missing] {
		amounts[i] = amounts[i].Add(cent)
	}
	return amounts
}
