package invoices

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradebooks/tradebooks/internal/pricing"
)

// Status enumerates invoice lifecycle states. Overdue is derived at
// read time and never persisted.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusSent          Status = "sent"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusCancelled     Status = "cancelled"
	StatusOverdue       Status = "overdue"
)

// Item is one priced line on an invoice. Converted invoices carry a
// copy of the quote's lines; there is no live link back.
type Item struct {
	ID          int64            `json:"id"`
	InvoiceID   int64            `json:"invoice_id"`
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	VATRate     decimal.Decimal  `json:"vat_rate"`
	ItemType    pricing.ItemType `json:"item_type"`
	LineOrder   int              `json:"line_order"`
}

// Payment is one recorded receipt against an invoice. Payments are
// append-only; corrections are new rows, never edits.
type Payment struct {
	ID         int64           `json:"id"`
	InvoiceID  int64           `json:"invoice_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reference  *string         `json:"reference,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Invoice is a bill issued to a client, standalone or converted from
// an accepted quote.
type Invoice struct {
	ID          int64          `json:"id"`
	BusinessID  int64          `json:"business_id"`
	ClientID    int64          `json:"client_id"`
	QuoteID     *int64         `json:"quote_id,omitempty"`
	Number      string         `json:"number"`
	Status      Status         `json:"status"`
	Items       []Item         `json:"items"`
	Pricing     pricing.Config `json:"pricing"`
	Notes       *string        `json:"notes,omitempty"`
	DueDate     *time.Time     `json:"due_date,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	PaidAt      *time.Time     `json:"paid_at,omitempty"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty"`
}

// Editable reports whether items and pricing may still change.
func (inv *Invoice) Editable() bool {
	return inv.Status == StatusDraft
}

// Payable reports whether a payment attempt is even considered. Paid
// is included so paying a settled invoice surfaces the authoritative
// zero balance rather than a transition error.
func (inv *Invoice) Payable() bool {
	switch inv.Status {
	case StatusSent, StatusPartiallyPaid, StatusPaid:
		return true
	default:
		return false
	}
}

// OverdueBy reports whether the invoice reads as overdue: due date
// passed while money is still owed.
func (inv *Invoice) OverdueBy(now time.Time, balance decimal.Decimal) bool {
	if inv.DueDate == nil || !balance.IsPositive() {
		return false
	}
	switch inv.Status {
	case StatusSent, StatusPartiallyPaid:
		return now.After(*inv.DueDate)
	default:
		return false
	}
}

// EffectiveStatus derives overdue at read time without a persisted
// transition.
func (inv *Invoice) EffectiveStatus(now time.Time, balance decimal.Decimal) Status {
	if inv.OverdueBy(now, balance) {
		return StatusOverdue
	}
	return inv.Status
}

// PricingItems adapts invoice items for the totals calculator.
func (inv *Invoice) PricingItems() []pricing.LineItem {
	items := make([]pricing.LineItem, 0, len(inv.Items))
	for _, it := range inv.Items {
		items = append(items, pricing.LineItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
			ItemType:    it.ItemType,
		})
	}
	return items
}

// Totals recomputes totals against the amount paid so far. VAT is
// summed per line; invoices never reuse quote document-level VAT.
func (inv *Invoice) Totals(paid decimal.Decimal) pricing.Totals {
	return pricing.InvoiceTotals(inv.PricingItems(), inv.Pricing, paid)
}

// Detail is the read model for a single invoice: derived status,
// recomputed totals and the payment history.
type Detail struct {
	Invoice           Invoice         `json:"invoice"`
	Totals            pricing.Totals  `json:"totals"`
	Paid              decimal.Decimal `json:"paid"`
	TotalDisplay      string          `json:"total_display"`
	BalanceDueDisplay string          `json:"balance_due_display"`
	Payments          []Payment       `json:"payments,omitempty"`
}
