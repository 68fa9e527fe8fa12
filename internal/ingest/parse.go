package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tabsplit/internal/models"
)

// defaultCurrency applies when the model omits the currency. The prompt asks
// for prices in euros.
const defaultCurrency = "EUR"

// rawLine accepts the field spellings models have been seen to produce.
type rawLine struct {
	Name           string           `json:"name"`
	Item           string           `json:"item"`
	Category       string           `json:"category"`
	Type           string           `json:"type"`
	UnitPrice      *decimal.Decimal `json:"unit_price"`
	UnitPriceEUR   *decimal.Decimal `json:"unit_price_eur"`
	UnitPriceEuros *decimal.Decimal `json:"unit_price_euros"`
	Quantity       *decimal.Decimal `json:"quantity"`
	Confidence     *float64         `json:"confidence"`
	Notes          *string          `json:"notes"`
}

// rawReceipt is either the flat {"items": [...]} layout or the grouped
// {"Drinks": [...], "Food": [...]} layout.
type rawReceipt struct {
	Currency string    `json:"currency"`
	Items    []rawLine `json:"items"`
	Drinks   []rawLine `json:"Drinks"`
	Food     []rawLine `json:"Food"`
}

// ParseResponse decodes a model response into a Receipt. Markdown code
// fences around the JSON are ignored. Lines are converted but not
// validated; call Receipt.ToItems for that.
func ParseResponse(text string) (*Receipt, error) {
	cleaned := stripFences(text)
	if cleaned == "" {
		return nil, ErrEmptyReceipt
	}

	var raw rawReceipt
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse extractor response: %w", err)
	}

	receipt := &Receipt{Currency: strings.ToUpper(strings.TrimSpace(raw.Currency))}
	if receipt.Currency == "" {
		receipt.Currency = defaultCurrency
	}

	for _, l := range raw.Items {
		receipt.Items = append(receipt.Items, l.candidate(""))
	}
	for _, l := range raw.Drinks {
		receipt.Items = append(receipt.Items, l.candidate(models.CategoryDrinks))
	}
	for _, l := range raw.Food {
		receipt.Items = append(receipt.Items, l.candidate(models.CategoryFood))
	}

	if len(receipt.Items) == 0 {
		return nil, ErrEmptyReceipt
	}
	return receipt, nil
}

func (l rawLine) candidate(group models.ItemCategory) Candidate {
	c := Candidate{
		Name:       l.Name,
		Category:   l.Category,
		Type:       strings.ToLower(strings.TrimSpace(l.Type)),
		Quantity:   1,
		Confidence: DefaultConfidence,
	}
	if c.Name == "" {
		c.Name = l.Item
	}
	if group != "" {
		c.Category = string(group)
	}
	c.Category = normalizeCategory(c.Category)

	switch {
	case l.UnitPrice != nil:
		c.UnitPrice = *l.UnitPrice
	case l.UnitPriceEUR != nil:
		c.UnitPrice = *l.UnitPriceEUR
	case l.UnitPriceEuros != nil:
		c.UnitPrice = *l.UnitPriceEuros
	}

	if l.Quantity != nil {
		// Fractional quantities are not supported; -1 fails validation.
		if l.Quantity.IsInteger() {
			c.Quantity = int(l.Quantity.IntPart())
		} else {
			c.Quantity = -1
		}
	}
	if l.Confidence != nil {
		c.Confidence = *l.Confidence
	}
	if l.Notes != nil {
		c.Notes = *l.Notes
	}
	return c
}

// normalizeCategory maps case variants onto the canonical names.
func normalizeCategory(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "food":
		return string(models.CategoryFood)
	case "drinks", "drink", "beverages":
		return string(models.CategoryDrinks)
	}
	return s
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = strings.TrimPrefix(rest, "json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
