package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradebooks/tradebooks/internal/platform/db"
	"github.com/tradebooks/tradebooks/internal/pricing"
	"github.com/tradebooks/tradebooks/internal/quotes"
	"github.com/tradebooks/tradebooks/internal/shared"
	"github.com/tradebooks/tradebooks/internal/view"
)

// QuoteReader supplies the quote being converted. Satisfied by the
// quotes service.
type QuoteReader interface {
	Get(ctx context.Context, id int64) (*quotes.Quote, error)
}

// Auditor mirrors transitions into the audit trail. Mirror failures
// never fail the transition.
type Auditor interface {
	RecordOrRetry(ctx context.Context, entry shared.AuditEntry)
}

// TransitionObserver counts applied transitions (metrics).
type TransitionObserver func(entity, action string)

// Service implements the invoice lifecycle and payment ledger.
type Service struct {
	repo    Repository
	quotes  QuoteReader
	audit   Auditor
	observe TransitionObserver
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds the invoice service. quotes, audit and observe may
// be nil; conversion requires quotes.
func NewService(repo Repository, quoteReader QuoteReader, audit Auditor, observe TransitionObserver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		quotes:  quoteReader,
		audit:   audit,
		observe: observe,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) observeTransition(action string) {
	if s.observe != nil {
		s.observe("invoice", action)
	}
}

func (s *Service) recordTransition(ctx context.Context, inv *Invoice, action string, from, to Status, meta map[string]any) {
	if s.audit == nil {
		return
	}
	actor, _ := shared.ActorFromContext(ctx)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = inv.Number
	s.audit.RecordOrRetry(ctx, shared.AuditEntry{
		ActorID:    actor.UserID,
		BusinessID: inv.BusinessID,
		Action:     action,
		Entity:     "invoice",
		EntityID:   strconv.FormatInt(inv.ID, 10),
		FromState:  string(from),
		ToState:    string(to),
		Meta:       meta,
	})
}

func validateItems(items []Item) error {
	for i, it := range items {
		li := pricing.LineItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
			ItemType:    it.ItemType,
		}
		if err := pricing.ValidateItem(li); err != nil {
			return fmt.Errorf("%w: item %d: %v", shared.ErrValidation, i+1, err)
		}
	}
	return nil
}

// Create inserts a standalone draft invoice and allocates its number.
func (s *Service) Create(ctx context.Context, businessID, clientID int64, items []Item, cfg pricing.Config, notes *string, dueDate *time.Time) (*Invoice, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	if err := pricing.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}

	var invoiceID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		number, err := repo.AllocateNumber(ctx, businessID, s.now().Year())
		if err != nil {
			return fmt.Errorf("allocate invoice number: %w", err)
		}
		invoiceID, err = repo.Create(ctx, Invoice{
			BusinessID: businessID,
			ClientID:   clientID,
			Number:     number,
			Status:     StatusDraft,
			Pricing:    cfg,
			Notes:      notes,
			DueDate:    dueDate,
		})
		if err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		return repo.ReplaceItems(ctx, invoiceID, items)
	})
	if err != nil {
		return nil, err
	}

	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, inv, "invoice.created", "", inv.Status, nil)
	s.observeTransition("create")
	return inv, nil
}

// ConvertFromQuote creates a draft invoice from an accepted quote,
// copying the frozen items and pricing. One invoice per quote; a
// second conversion returns AlreadyConvertedError with the first
// invoice's identity.
func (s *Service) ConvertFromQuote(ctx context.Context, quoteID int64) (*Invoice, error) {
	if s.quotes == nil {
		return nil, fmt.Errorf("invoices: quote reader not configured")
	}
	q, err := s.quotes.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if q.Status != quotes.StatusAccepted {
		return nil, fmt.Errorf("%w: only accepted quotes can be converted", shared.ErrInvalidTransition)
	}
	if !q.IsLocked {
		return nil, fmt.Errorf("%w: quote %s has an open revision", shared.ErrInvalidTransition, q.Number)
	}

	items := make([]Item, 0, len(q.Items))
	for _, it := range q.Items {
		items = append(items, Item{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
			ItemType:    it.ItemType,
			LineOrder:   it.LineOrder,
		})
	}

	var invoiceID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		number, err := repo.AllocateNumber(ctx, q.BusinessID, s.now().Year())
		if err != nil {
			return fmt.Errorf("allocate invoice number: %w", err)
		}
		invoiceID, err = repo.Create(ctx, Invoice{
			BusinessID: q.BusinessID,
			ClientID:   q.ClientID,
			QuoteID:    &q.ID,
			Number:     number,
			Status:     StatusDraft,
			Pricing:    q.Pricing,
		})
		if err != nil {
			return err
		}
		return repo.ReplaceItems(ctx, invoiceID, items)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "invoices_quote_id_key") {
			existing, lookupErr := s.repo.GetByQuoteID(ctx, quoteID)
			if lookupErr != nil {
				return nil, fmt.Errorf("convert quote %d: %w", quoteID, err)
			}
			return nil, &AlreadyConvertedError{QuoteID: quoteID, InvoiceID: existing.ID, Number: existing.Number}
		}
		return nil, err
	}

	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, inv, "invoice.converted", "", inv.Status, map[string]any{"quote_id": quoteID, "quote_number": q.Number})
	s.observeTransition("convert")
	return inv, nil
}

// Update replaces items and/or header fields. Drafts only.
func (s *Service) Update(ctx context.Context, id int64, items []Item, upd HeaderUpdate) (*Invoice, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Editable() {
		return nil, fmt.Errorf("%w: invoice %s is no longer a draft", shared.ErrInvalidTransition, existing.Number)
	}
	if items != nil {
		if err := validateItems(items); err != nil {
			return nil, err
		}
	}
	if upd.Pricing != nil {
		if err := pricing.ValidateConfig(*upd.Pricing); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateHeader(ctx, id, upd); err != nil {
			return err
		}
		if items != nil {
			return repo.ReplaceItems(ctx, id, items)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a draft that has no payments.
func (s *Service) Delete(ctx context.Context, id int64) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status != StatusDraft {
		return fmt.Errorf("%w: only draft invoices can be deleted", shared.ErrInvalidTransition)
	}
	count, err := s.repo.CountPayments(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: invoice has recorded payments", shared.ErrInvalidTransition)
	}
	return s.repo.Delete(ctx, id)
}

// Send transitions draft to sent. Requires at least one line item.
func (s *Service) Send(ctx context.Context, id int64) (*Invoice, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusDraft {
		return nil, fmt.Errorf("%w: only draft invoices can be sent", shared.ErrInvalidTransition)
	}
	if len(existing.Items) == 0 {
		return nil, fmt.Errorf("%w: invoice has no items", shared.ErrValidation)
	}

	now := s.now()
	applied, err := s.repo.ApplyState(ctx, id, StateChange{
		From:   StatusDraft,
		To:     StatusSent,
		SentAt: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("send invoice: %w", err)
	}
	if !applied {
		return nil, shared.ErrConcurrentModification
	}

	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, inv, "invoice.sent", StatusDraft, inv.Status, nil)
	s.observeTransition("send")
	return inv, nil
}

// Cancel voids an unpaid invoice. Terminal; recorded payments remain
// in the ledger.
func (s *Service) Cancel(ctx context.Context, id int64) (*Invoice, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch existing.Status {
	case StatusPaid:
		return nil, fmt.Errorf("%w: paid invoices cannot be cancelled", shared.ErrInvalidTransition)
	case StatusCancelled:
		return nil, fmt.Errorf("%w: invoice is already cancelled", shared.ErrInvalidTransition)
	}

	now := s.now()
	applied, err := s.repo.ApplyState(ctx, id, StateChange{
		From:        existing.Status,
		To:          StatusCancelled,
		CancelledAt: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel invoice: %w", err)
	}
	if !applied {
		return nil, shared.ErrConcurrentModification
	}

	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, inv, "invoice.cancelled", existing.Status, inv.Status, nil)
	s.observeTransition("cancel")
	return inv, nil
}

// RecordPayment appends a payment against the outstanding balance. The
// invoice row is locked for the duration so concurrent payments see
// each other; the balance is always re-derived from the live payment
// sum inside the lock, never trusted from the caller.
func (s *Service) RecordPayment(ctx context.Context, id int64, amount decimal.Decimal, method string, reference *string) (*Invoice, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	if method == "" {
		return nil, fmt.Errorf("%w: payment method is required", shared.ErrValidation)
	}

	var fromStatus Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		inv, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		fromStatus = inv.Status
		if !inv.Payable() {
			return fmt.Errorf("%w: cannot record a payment against a %s invoice", shared.ErrInvalidTransition, inv.Status)
		}

		paid, err := repo.SumPayments(ctx, id)
		if err != nil {
			return err
		}
		totals := inv.Totals(paid)
		if amount.GreaterThan(totals.RawBalance) {
			return &OverpaymentError{InvoiceID: id, Attempted: amount, BalanceDue: totals.BalanceDue}
		}

		if _, err := repo.InsertPayment(ctx, Payment{
			InvoiceID:  id,
			Amount:     amount,
			Method:     method,
			Reference:  reference,
			ReceivedAt: s.now(),
		}); err != nil {
			return err
		}

		change := StateChange{From: inv.Status, To: StatusPartiallyPaid}
		if paid.Add(amount).Equal(totals.Total) {
			now := s.now()
			change.To = StatusPaid
			change.PaidAt = &now
		}
		applied, err := repo.ApplyState(ctx, id, change)
		if err != nil {
			return err
		}
		if !applied {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, inv, "invoice.payment_recorded", fromStatus, inv.Status, map[string]any{
		"amount": amount.StringFixed(2),
		"method": method,
	})
	s.observeTransition("payment")
	return inv, nil
}

// Get returns the invoice with its derived status.
func (s *Service) Get(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	paid, err := s.repo.SumPayments(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Status = inv.EffectiveStatus(s.now(), inv.Totals(paid).BalanceDue)
	return inv, nil
}

// Detail returns the invoice, freshly recomputed totals and the
// payment history.
func (s *Service) Detail(ctx context.Context, id int64) (*Detail, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, id)
	if err != nil {
		return nil, err
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	totals := inv.Totals(paid)
	inv.Status = inv.EffectiveStatus(s.now(), totals.BalanceDue)
	return &Detail{
		Invoice:           *inv,
		Totals:            totals,
		Paid:              paid,
		TotalDisplay:      view.GBP(totals.Total),
		BalanceDueDisplay: view.GBP(totals.BalanceDue),
		Payments:          payments,
	}, nil
}

// List returns invoices matching the filter.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Invoice, int, error) {
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

// PeekNumber previews the next invoice number. Advisory only.
func (s *Service) PeekNumber(ctx context.Context, businessID int64) (string, error) {
	return s.repo.PeekNumber(ctx, businessID, s.now().Year())
}
