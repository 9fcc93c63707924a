package quotes

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradebooks/tradebooks/internal/pricing"
)

// Status enumerates quote lifecycle states.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// State pairs status with the lock bit. Only accepted quotes can be
// locked; NormalState drops the lock for every other status so the
// illegal combinations are never written.
type State struct {
	Status Status
	Locked bool
}

// NormalState returns the state with the lock bit normalised.
func NormalState(status Status, locked bool) State {
	if status != StatusAccepted {
		locked = false
	}
	return State{Status: status, Locked: locked}
}

// Item is one priced line on a quote.
type Item struct {
	ID          int64            `json:"id"`
	QuoteID     int64            `json:"quote_id"`
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	VATRate     decimal.Decimal  `json:"vat_rate"`
	ItemType    pricing.ItemType `json:"item_type"`
	LineOrder   int              `json:"line_order"`
}

// Quote is a priced, revisable proposal sent to a client.
type Quote struct {
	ID             int64           `json:"id"`
	BusinessID     int64           `json:"business_id"`
	ClientID       int64           `json:"client_id"`
	Number         string          `json:"number"`
	Status         Status          `json:"status"`
	IsLocked       bool            `json:"is_locked"`
	RevisionNumber int             `json:"revision_number"`
	ParentQuoteID  *int64          `json:"parent_quote_id,omitempty"`
	Items          []Item          `json:"items"`
	Pricing        pricing.Config  `json:"pricing"`
	AcceptedTotals *pricing.Totals `json:"accepted_totals,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	ValidUntil     *time.Time      `json:"valid_until,omitempty"`
	AcceptNote     *string         `json:"accept_note,omitempty"`
	RejectReason   *string         `json:"reject_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	AcceptedAt     *time.Time      `json:"accepted_at,omitempty"`
	RejectedAt     *time.Time      `json:"rejected_at,omitempty"`
}

// State returns the quote's normalised status/lock pair.
func (q *Quote) State() State {
	return NormalState(q.Status, q.IsLocked)
}

// Editable reports whether items and pricing may be mutated: drafts
// always, accepted quotes only while an active revision holds the lock
// open.
func (q *Quote) Editable() bool {
	switch q.Status {
	case StatusDraft:
		return true
	case StatusAccepted:
		return !q.IsLocked
	default:
		return false
	}
}

// ExpiredBy reports whether the validity window has passed.
func (q *Quote) ExpiredBy(now time.Time) bool {
	return q.ValidUntil != nil && now.After(*q.ValidUntil)
}

// EffectiveStatus derives expiry at read time; a sent quote past its
// valid_until reads as expired without a persisted transition.
func (q *Quote) EffectiveStatus(now time.Time) Status {
	if q.Status == StatusSent && q.ExpiredBy(now) {
		return StatusExpired
	}
	return q.Status
}

// PricingItems adapts quote items for the totals calculator.
func (q *Quote) PricingItems() []pricing.LineItem {
	items := make([]pricing.LineItem, 0, len(q.Items))
	for _, it := range q.Items {
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

// Totals recomputes current totals from current items. Stored totals
// are never trusted on read; the revision snapshot is the only
// authoritative historical copy.
func (q *Quote) Totals() pricing.Totals {
	return pricing.QuoteTotals(q.PricingItems(), q.Pricing)
}

// Revision is an immutable snapshot written when a locked quote is
// reopened for amendment.
type Revision struct {
	ID              int64           `json:"id"`
	QuoteID         int64           `json:"quote_id"`
	RevisionNumber  int             `json:"revision_number"`
	Reason          string          `json:"reason"`
	ItemsSnapshot   json.RawMessage `json:"items_snapshot"`
	PricingSnapshot json.RawMessage `json:"pricing_snapshot"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Detail is the read model for a single quote: current state plus
// freshly recomputed totals and the revision history.
type Detail struct {
	Quote        Quote          `json:"quote"`
	Totals       pricing.Totals `json:"totals"`
	TotalDisplay string         `json:"total_display"`
	Revisions    []Revision     `json:"revisions,omitempty"`
}

// Summary aggregates a business's pipeline by status.
type Summary struct {
	Counts        map[Status]int  `json:"counts"`
	PipelineValue decimal.Decimal `json:"pipeline_value"`
}
