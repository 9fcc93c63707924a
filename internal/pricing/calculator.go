// Package pricing computes document totals. All monetary arithmetic is
// decimal so repeated computation over the same inputs is byte-stable.
package pricing

import "github.com/shopspring/decimal"

// QuoteTotals computes totals for a quote. Quotes carry a single
// document-level VAT rate; per-line rates are ignored on this path.
//
// Application order is fixed: subtotal, markup, discount (clamped so the
// running total never goes below zero), VAT, total, deposit.
func QuoteTotals(items []LineItem, cfg Config) Totals {
	subtotal := sumSubtotals(items)
	markup := cfg.Markup.AmountOf(subtotal)

	marked := subtotal.Add(markup)
	discount := cfg.Discount.AmountOf(marked)
	if discount.GreaterThan(marked) {
		discount = marked
	}

	taxable := marked.Sub(discount)
	vat := taxable.Mul(cfg.VATRate).Div(hundred).Round(2)
	total := taxable.Add(vat)

	t := Totals{
		Subtotal:       subtotal,
		MarkupAmount:   markup,
		DiscountAmount: discount,
		VATAmount:      vat,
		Total:          total,
		BalanceDue:     total,
		RawBalance:     total,
	}
	if dep, ok := depositOf(cfg, total); ok {
		t.DepositAmount = &dep
	}
	return t
}

// InvoiceTotals computes totals for an invoice, where each line carries
// its own VAT rate and VAT is summed per line rather than applied once
// at document level. paid is the live sum of recorded payments.
func InvoiceTotals(items []LineItem, cfg Config, paid decimal.Decimal) Totals {
	subtotal := sumSubtotals(items)
	markup := cfg.Markup.AmountOf(subtotal)

	marked := subtotal.Add(markup)
	discount := cfg.Discount.AmountOf(marked)
	if discount.GreaterThan(marked) {
		discount = marked
	}

	taxable := marked.Sub(discount)

	vat := decimal.Zero
	for _, li := range items {
		vat = vat.Add(li.Subtotal().Mul(li.VATRate).Div(hundred).Round(2))
	}

	total := taxable.Add(vat)
	raw := total.Sub(paid)
	display := raw
	if display.IsNegative() {
		display = decimal.Zero
	}

	t := Totals{
		Subtotal:       subtotal,
		MarkupAmount:   markup,
		DiscountAmount: discount,
		VATAmount:      vat,
		Total:          total,
		BalanceDue:     display,
		RawBalance:     raw,
	}
	if dep, ok := depositOf(cfg, total); ok {
		t.DepositAmount = &dep
	}
	return t
}

// depositOf resolves the deposit, absent entirely when no deposit rule
// is configured.
func depositOf(cfg Config, total decimal.Decimal) (decimal.Decimal, bool) {
	switch cfg.Deposit.Type {
	case AdjustPercent, AdjustFixed:
		return cfg.Deposit.AmountOf(total), true
	default:
		return decimal.Zero, false
	}
}

func sumSubtotals(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(li.Subtotal())
	}
	return sum
}
