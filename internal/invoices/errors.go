package invoices

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OverpaymentError rejects a payment that exceeds the outstanding
// balance. It carries the authoritative balance so the caller can
// retry with a corrected amount.
type OverpaymentError struct {
	InvoiceID  int64
	Attempted  decimal.Decimal
	BalanceDue decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("invoices: payment of %s exceeds balance due %s on invoice %d",
		e.Attempted.StringFixed(2), e.BalanceDue.StringFixed(2), e.InvoiceID)
}

func (e *OverpaymentError) ProblemStatus() int   { return 422 }
func (e *OverpaymentError) ProblemTitle() string { return "Overpayment Rejected" }

func (e *OverpaymentError) ProblemExtra() map[string]any {
	return map[string]any{
		"invoice_id":  e.InvoiceID,
		"balance_due": e.BalanceDue.StringFixed(2),
	}
}

// AlreadyConvertedError reports that the quote already has an invoice.
// Conversion is one-shot; the existing invoice is the answer.
type AlreadyConvertedError struct {
	QuoteID   int64
	InvoiceID int64
	Number    string
}

func (e *AlreadyConvertedError) Error() string {
	return fmt.Sprintf("invoices: quote %d already converted to invoice %s", e.QuoteID, e.Number)
}

func (e *AlreadyConvertedError) ProblemStatus() int   { return 409 }
func (e *AlreadyConvertedError) ProblemTitle() string { return "Already Converted" }

func (e *AlreadyConvertedError) ProblemExtra() map[string]any {
	return map[string]any{
		"invoice_id":     e.InvoiceID,
		"invoice_number": e.Number,
	}
}
