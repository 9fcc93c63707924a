package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ItemType classifies a line item.
type ItemType string

const (
	ItemMaterial ItemType = "material"
	ItemLabour   ItemType = "labour"
	ItemCustom   ItemType = "custom"
)

// AdjustmentType selects how an adjustment value is applied.
type AdjustmentType string

const (
	AdjustNone    AdjustmentType = "none"
	AdjustPercent AdjustmentType = "percent"
	AdjustFixed   AdjustmentType = "fixed"
)

// LineItem is a single priced line on a quote or invoice.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	ItemType    ItemType        `json:"item_type"`
}

// Subtotal returns quantity x unit price rounded to pence.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.Quantity.Mul(li.UnitPrice).Round(2)
}

// Adjustment is a markup, discount or deposit rule.
type Adjustment struct {
	Type  AdjustmentType  `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// AmountOf resolves the adjustment against a base amount.
func (a Adjustment) AmountOf(base decimal.Decimal) decimal.Decimal {
	switch a.Type {
	case AdjustPercent:
		return base.Mul(a.Value).Div(decimal.NewFromInt(100)).Round(2)
	case AdjustFixed:
		return a.Value.Round(2)
	default:
		return decimal.Zero
	}
}

// Config is the pricing configuration attached to a quote and copied
// verbatim onto any invoice derived from it.
type Config struct {
	VATRate  decimal.Decimal `json:"vat_rate"`
	Discount Adjustment      `json:"discount"`
	Markup   Adjustment      `json:"markup"`
	Deposit  Adjustment      `json:"deposit"`
}

// Totals is the computed money breakdown for a document.
type Totals struct {
	Subtotal       decimal.Decimal  `json:"subtotal"`
	MarkupAmount   decimal.Decimal  `json:"markup_amount"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	VATAmount      decimal.Decimal  `json:"vat_amount"`
	Total          decimal.Decimal  `json:"total"`
	DepositAmount  *decimal.Decimal `json:"deposit_amount,omitempty"`
	// BalanceDue is floored at zero for display. RawBalance keeps the
	// unfloored value for overpayment checks.
	BalanceDue decimal.Decimal `json:"balance_due"`
	RawBalance decimal.Decimal `json:"-"`
}

var (
	ErrQuantityNotPositive = errors.New("pricing: quantity must be positive")
	ErrNegativeUnitPrice   = errors.New("pricing: unit price must not be negative")
	ErrVATRateOutOfRange   = errors.New("pricing: vat rate must be between 0 and 100")
	ErrUnknownItemType     = errors.New("pricing: unknown item type")
	ErrUnknownAdjustment   = errors.New("pricing: unknown adjustment type")
	ErrNegativeAdjustment  = errors.New("pricing: adjustment value must not be negative")
)

var hundred = decimal.NewFromInt(100)

// ValidateItem checks a single line item against the pricing rules.
func ValidateItem(li LineItem) error {
	if !li.Quantity.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrQuantityNotPositive, li.Quantity)
	}
	if li.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: got %s", ErrNegativeUnitPrice, li.UnitPrice)
	}
	if li.VATRate.IsNegative() || li.VATRate.GreaterThan(hundred) {
		return fmt.Errorf("%w: got %s", ErrVATRateOutOfRange, li.VATRate)
	}
	switch li.ItemType {
	case ItemMaterial, ItemLabour, ItemCustom:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownItemType, li.ItemType)
	}
	return nil
}

// ValidateConfig checks the pricing configuration.
func ValidateConfig(cfg Config) error {
	if cfg.VATRate.IsNegative() || cfg.VATRate.GreaterThan(hundred) {
		return fmt.Errorf("%w: got %s", ErrVATRateOutOfRange, cfg.VATRate)
	}
	for _, adj := range []Adjustment{cfg.Discount, cfg.Markup, cfg.Deposit} {
		switch adj.Type {
		// The zero value reads as no adjustment.
		case "", AdjustNone, AdjustPercent, AdjustFixed:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownAdjustment, adj.Type)
		}
		if adj.Type != AdjustNone && adj.Value.IsNegative() {
			return fmt.Errorf("%w: got %s", ErrNegativeAdjustment, adj.Value)
		}
	}
	return nil
}
