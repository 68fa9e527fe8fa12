// Package ingest turns a receipt image into validated line items.
//
// Extraction runs once per upload. Its output is a Receipt of Candidates;
// only candidates that pass Validate become models.Item rows, and the
// allocation engine never calls back into this package.
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tabsplit/internal/models"
)

var (
	// ErrInvalidCandidate wraps every validation failure of an extracted line.
	ErrInvalidCandidate = errors.New("invalid receipt line")

	// ErrEmptyReceipt is returned when extraction produced no lines.
	ErrEmptyReceipt = errors.New("no items found on receipt")
)

// DefaultConfidence is assumed when the extractor does not report one.
const DefaultConfidence = 0.95

// Candidate is one extracted receipt line before validation.
type Candidate struct {
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	Type       string          `json:"type"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	Confidence float64         `json:"confidence"`
	Notes      string          `json:"notes,omitempty"`
}

// Receipt is the extractor's result.
type Receipt struct {
	Currency string      `json:"currency"`
	Items    []Candidate `json:"items"`
}

// Validate checks one candidate against the ingestion contract.
func (c Candidate) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidCandidate)
	}
	if _, err := models.ParseItemCategory(c.Category); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidCandidate, c.Name, err)
	}
	if _, err := models.ParseItemType(c.Type); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidCandidate, c.Name, err)
	}
	if c.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: %q: unit price %s is negative", ErrInvalidCandidate, c.Name, c.UnitPrice)
	}
	if c.Quantity < 1 {
		return fmt.Errorf("%w: %q: quantity %d is below 1", ErrInvalidCandidate, c.Name, c.Quantity)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: %q: confidence %v outside [0, 1]", ErrInvalidCandidate, c.Name, c.Confidence)
	}
	return nil
}

// ToItems validates every candidate and converts them to items. All failures
// are reported together.
func (r *Receipt) ToItems() ([]models.Item, error) {
	if r == nil || len(r.Items) == 0 {
		return nil, ErrEmptyReceipt
	}

	var errs []error
	items := make([]models.Item, 0, len(r.Items))
	for i, c := range r.Items {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", i+1, err))
			continue
		}
		category, _ := models.ParseItemCategory(c.Category)
		itemType, _ := models.ParseItemType(c.Type)
		items = append(items, models.Item{
			Name:       strings.TrimSpace(c.Name),
			Category:   category,
			Type:       itemType,
			UnitPrice:  c.UnitPrice,
			Quantity:   c.Quantity,
			Confidence: c.Confidence,
			Notes:      c.Notes,
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return items, nil
}
