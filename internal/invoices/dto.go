package invoices

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradebooks/tradebooks/internal/pricing"
)

type ItemRequest struct {
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	ItemType    string          `json:"item_type" validate:"required,oneof=material labour custom"`
	LineOrder   int             `json:"line_order"`
}

type AdjustmentRequest struct {
	Type  string          `json:"type" validate:"omitempty,oneof=none percent fixed"`
	Value decimal.Decimal `json:"value"`
}

type PricingRequest struct {
	VATRate  decimal.Decimal   `json:"vat_rate"`
	Discount AdjustmentRequest `json:"discount"`
	Markup   AdjustmentRequest `json:"markup"`
	Deposit  AdjustmentRequest `json:"deposit"`
}

type CreateInvoiceRequest struct {
	ClientID int64          `json:"client_id" validate:"required"`
	Items    []ItemRequest  `json:"items" validate:"dive"`
	Pricing  PricingRequest `json:"pricing"`
	Notes    *string        `json:"notes,omitempty"`
	DueDate  *time.Time     `json:"due_date,omitempty"`
}

type UpdateInvoiceRequest struct {
	ClientID *int64          `json:"client_id,omitempty"`
	Items    *[]ItemRequest  `json:"items,omitempty" validate:"omitempty,dive"`
	Pricing  *PricingRequest `json:"pricing,omitempty"`
	Notes    *string         `json:"notes,omitempty"`
	DueDate  *time.Time      `json:"due_date,omitempty"`
}

type RecordPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Method    string          `json:"method" validate:"required"`
	Reference *string         `json:"reference,omitempty"`
}

func (a AdjustmentRequest) toAdjustment() pricing.Adjustment {
	t := pricing.AdjustmentType(a.Type)
	if a.Type == "" {
		t = pricing.AdjustNone
	}
	return pricing.Adjustment{Type: t, Value: a.Value}
}

func (p PricingRequest) toConfig() pricing.Config {
	return pricing.Config{
		VATRate:  p.VATRate,
		Discount: p.Discount.toAdjustment(),
		Markup:   p.Markup.toAdjustment(),
		Deposit:  p.Deposit.toAdjustment(),
	}
}

func toItems(reqs []ItemRequest) []Item {
	items := make([]Item, 0, len(reqs))
	for i, req := range reqs {
		order := req.LineOrder
		if order == 0 {
			order = i + 1
		}
		items = append(items, Item{
			Description: req.Description,
			Quantity:    req.Quantity,
			UnitPrice:   req.UnitPrice,
			VATRate:     req.VATRate,
			ItemType:    pricing.ItemType(req.ItemType),
			LineOrder:   order,
		})
	}
	return items
}
