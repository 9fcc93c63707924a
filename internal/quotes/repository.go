package quotes

import (
	"context"
	"time"

	"github.com/tradebooks/tradebooks/internal/numbering"
	"github.com/tradebooks/tradebooks/internal/pricing"
)

// StateChange is a compare-and-swap transition. The write only applies
// when the row still holds From at write time; Applied reports whether
// it did.
type StateChange struct {
	From State
	To   State

	SentAt       *time.Time
	AcceptedAt   *time.Time
	RejectedAt   *time.Time
	AcceptNote   *string
	RejectReason *string

	// BumpRevision increments revision_number alongside the transition
	// (used when a revision reopens a locked quote).
	BumpRevision bool
	// AcceptedTotals freezes the computed totals at acceptance.
	AcceptedTotals *pricing.Totals
}

// HeaderUpdate mutates editable header fields.
type HeaderUpdate struct {
	ClientID   *int64
	Notes      *string
	ValidUntil *time.Time
	Pricing    *pricing.Config
}

// ListRequest filters the quote list.
type ListRequest struct {
	BusinessID int64
	ClientID   *int64
	Status     *Status
	DateFrom   *time.Time
	DateTo     *time.Time
	Limit      int
	Offset     int
}

// Repository is the persistence port for quotes.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	Create(ctx context.Context, q Quote) (int64, error)
	Get(ctx context.Context, id int64) (*Quote, error)
	List(ctx context.Context, req ListRequest) ([]Quote, int, error)
	Delete(ctx context.Context, id int64) error

	ReplaceItems(ctx context.Context, quoteID int64, items []Item) error
	UpdateHeader(ctx context.Context, id int64, upd HeaderUpdate) error

	// ApplyState performs the compare-and-swap transition; false means
	// the precondition no longer held.
	ApplyState(ctx context.Context, id int64, change StateChange) (bool, error)

	InsertRevision(ctx context.Context, rev Revision) (int64, error)
	ListRevisions(ctx context.Context, quoteID int64) ([]Revision, error)

	// AllocateNumber issues the next quote number for the business/year,
	// atomically against concurrent callers. PeekNumber previews it
	// without allocating.
	AllocateNumber(ctx context.Context, businessID int64, year int) (string, error)
	PeekNumber(ctx context.Context, businessID int64, year int) (string, error)

	Summarize(ctx context.Context, businessID int64) (*Summary, error)
}

// docType used by AllocateNumber implementations.
const numberDocType = numbering.DocQuote
