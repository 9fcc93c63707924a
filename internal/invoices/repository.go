package invoices

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradebooks/tradebooks/internal/numbering"
	"github.com/tradebooks/tradebooks/internal/pricing"
)

// StateChange is a compare-and-swap transition. The write only applies
// when the row still holds From at write time.
type StateChange struct {
	From Status
	To   Status

	SentAt      *time.Time
	PaidAt      *time.Time
	CancelledAt *time.Time
}

// HeaderUpdate mutates editable header fields.
type HeaderUpdate struct {
	ClientID *int64
	Notes    *string
	DueDate  *time.Time
	Pricing  *pricing.Config
}

// ListRequest filters the invoice list.
type ListRequest struct {
	BusinessID int64
	ClientID   *int64
	Status     *Status
	DateFrom   *time.Time
	DateTo     *time.Time
	Limit      int
	Offset     int
}

// Repository is the persistence port for invoices.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	Create(ctx context.Context, inv Invoice) (int64, error)
	Get(ctx context.Context, id int64) (*Invoice, error)
	// GetForUpdate row-locks the invoice for the rest of the
	// transaction. Callers must be inside WithTx.
	GetForUpdate(ctx context.Context, id int64) (*Invoice, error)
	GetByQuoteID(ctx context.Context, quoteID int64) (*Invoice, error)
	List(ctx context.Context, req ListRequest) ([]Invoice, int, error)
	Delete(ctx context.Context, id int64) error

	ReplaceItems(ctx context.Context, invoiceID int64, items []Item) error
	UpdateHeader(ctx context.Context, id int64, upd HeaderUpdate) error

	// ApplyState performs the compare-and-swap transition; false means
	// the precondition no longer held.
	ApplyState(ctx context.Context, id int64, change StateChange) (bool, error)

	InsertPayment(ctx context.Context, p Payment) (int64, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	CountPayments(ctx context.Context, invoiceID int64) (int, error)

	AllocateNumber(ctx context.Context, businessID int64, year int) (string, error)
	PeekNumber(ctx context.Context, businessID int64, year int) (string, error)
}

const numberDocType = numbering.DocInvoice
