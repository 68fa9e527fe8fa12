package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ItemCategory groups receipt lines the way the extractor reports them.
type ItemCategory string

const (
	CategoryFood   ItemCategory = "Food"
	CategoryDrinks ItemCategory = "Drinks"
)

// ParseItemCategory validates a category string.
func ParseItemCategory(s string) (ItemCategory, error) {
	switch ItemCategory(s) {
	case CategoryFood, CategoryDrinks:
		return ItemCategory(s), nil
	}
	return "", fmt.Errorf("unknown item category %q", s)
}

// ItemType distinguishes ordinary lines from surcharges (service, tip, etc).
// Surcharges are allocated exactly like ordinary items.
type ItemType string

const (
	ItemTypeItem      ItemType = "item"
	ItemTypeSurcharge ItemType = "surcharge"
)

// ParseItemType validates an item type string. Empty means ItemTypeItem.
func ParseItemType(s string) (ItemType, error) {
	switch ItemType(s) {
	case "":
		return ItemTypeItem, nil
	case ItemTypeItem, ItemTypeSurcharge:
		return ItemType(s), nil
	}
	return "", fmt.Errorf("unknown item type %q", s)
}

// Bill represents one receipt being split.
type Bill struct {
	// ID is the unique identifier for the bill (UUID format).
	ID string

	// Currency is an ISO 4217 code (e.g., "EUR"). Amounts are never converted.
	Currency string

	// Locked is set once splitting is finalized. A locked bill rejects every
	// allocation mutation.
	Locked bool

	// OrganizerKeyHash is the bcrypt hash of the key handed to whoever
	// created the bill. Only that key may lock the bill.
	OrganizerKeyHash string

	// CreatedAt is the Unix timestamp when the bill was created.
	CreatedAt int64

	Items        []Item
	Participants []Participant
}

// Item is a single receipt line.
type Item struct {
	// ID is the unique identifier for the item (UUID format).
	ID     string
	BillID string

	Name     string
	Category ItemCategory
	Type     ItemType

	// UnitPrice is the price of one unit, never negative.
	UnitPrice decimal.Decimal

	// Quantity is the number of units on the receipt, at least 1.
	Quantity int

	// PoolReserved is the number of units reserved into the shared pool.
	// Zero means the item has no pool.
	PoolReserved int

	// Confidence is the extractor's confidence in this line, in [0, 1].
	Confidence float64

	Notes string
}

// LineTotal returns UnitPrice × Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// HasPool reports whether the item currently has a shared pool.
func (i Item) HasPool() bool {
	return i.PoolReserved > 0
}

// Participant is one person splitting a bill.
type Participant struct {
	ID     string
	BillID string
	Name   string

	// IsPayer marks who paid the restaurant. Informational only.
	IsPayer bool

	CreatedAt int64
}
