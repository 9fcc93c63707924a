package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tradebooks/tradebooks/internal/platform/cache"
	"github.com/tradebooks/tradebooks/internal/pricing"
	"github.com/tradebooks/tradebooks/internal/shared"
	"github.com/tradebooks/tradebooks/internal/view"
)

// Auditor mirrors transitions into the audit trail. Mirror failures
// never fail the transition.
type Auditor interface {
	RecordOrRetry(ctx context.Context, entry shared.AuditEntry)
}

// TransitionObserver counts applied transitions (metrics).
type TransitionObserver func(entity, action string)

// Service implements the quote lifecycle.
type Service struct {
	repo    Repository
	audit   Auditor
	cache   *cache.Cache
	observe TransitionObserver
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds the quote service. audit, readCache and observe may
// be nil.
func NewService(repo Repository, audit Auditor, readCache *cache.Cache, observe TransitionObserver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		audit:   audit,
		cache:   readCache,
		observe: observe,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) observeTransition(action string) {
	if s.observe != nil {
		s.observe("quote", action)
	}
}

func summaryCacheKey(businessID int64) string {
	return "quotes:summary:" + strconv.FormatInt(businessID, 10)
}

func (s *Service) invalidateSummary(ctx context.Context, businessID int64) {
	if err := s.cache.Invalidate(ctx, summaryCacheKey(businessID)); err != nil {
		s.logger.Warn("summary cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Service) recordTransition(ctx context.Context, q *Quote, action string, from, to State, meta map[string]any) {
	if s.audit == nil {
		return
	}
	actor, _ := shared.ActorFromContext(ctx)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = q.Number
	s.audit.RecordOrRetry(ctx, shared.AuditEntry{
		ActorID:    actor.UserID,
		BusinessID: q.BusinessID,
		Action:     action,
		Entity:     "quote",
		EntityID:   strconv.FormatInt(q.ID, 10),
		FromState:  string(from.Status),
		ToState:    string(to.Status),
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

// Create inserts a new draft quote and allocates its number.
func (s *Service) Create(ctx context.Context, businessID, clientID int64, items []Item, cfg pricing.Config, notes *string, validUntil *time.Time) (*Quote, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	if err := pricing.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}

	var quoteID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		number, err := repo.AllocateNumber(ctx, businessID, s.now().Year())
		if err != nil {
			return fmt.Errorf("allocate quote number: %w", err)
		}
		quoteID, err = repo.Create(ctx, Quote{
			BusinessID: businessID,
			ClientID:   clientID,
			Number:     number,
			Status:     StatusDraft,
			Pricing:    cfg,
			Notes:      notes,
			ValidUntil: validUntil,
		})
		if err != nil {
			return fmt.Errorf("create quote: %w", err)
		}
		return repo.ReplaceItems(ctx, quoteID, items)
	})
	if err != nil {
		return nil, err
	}

	q, err := s.repo.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, q, "quote.created", State{}, q.State(), nil)
	s.observeTransition("create")
	s.invalidateSummary(ctx, businessID)
	return q, nil
}

// Update replaces items and/or header fields. Only drafts and accepted
// quotes with an open revision are editable.
func (s *Service) Update(ctx context.Context, id int64, items []Item, upd HeaderUpdate) (*Quote, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Editable() {
		return nil, fmt.Errorf("%w: quote %s is locked for editing", shared.ErrInvalidTransition, existing.Number)
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
		return nil, fmt.Errorf("update quote: %w", err)
	}
	s.invalidateSummary(ctx, existing.BusinessID)
	return s.repo.Get(ctx, id)
}

// Delete removes a draft. Documents that left draft are never
// physically deleted.
func (s *Service) Delete(ctx context.Context, id int64) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status != StatusDraft {
		return fmt.Errorf("%w: only draft quotes can be deleted", shared.ErrInvalidTransition)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateSummary(ctx, existing.BusinessID)
	return nil
}

// Send transitions draft to sent. Requires at least one line item.
func (s *Service) Send(ctx context.Context, id int64) (*Quote, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusDraft {
		return nil, fmt.Errorf("%w: only draft quotes can be sent", shared.ErrInvalidTransition)
	}
	if len(existing.Items) == 0 {
		return nil, fmt.Errorf("%w: quote has no items", shared.ErrValidation)
	}

	now := s.now()
	applied, err := s.repo.ApplyState(ctx, id, StateChange{
		From:   State{Status: StatusDraft},
		To:     State{Status: StatusSent},
		SentAt: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("send quote: %w", err)
	}
	if !applied {
		return nil, shared.ErrConcurrentModification
	}

	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, q, "quote.sent", State{Status: StatusDraft}, q.State(), nil)
	s.observeTransition("send")
	s.invalidateSummary(ctx, q.BusinessID)
	return q, nil
}

// Accept locks the quote and freezes its totals. A duplicate accept on
// an already-accepted quote is a no-op success so client retries are
// harmless. Re-accepting after a revision closes the revision window.
func (s *Service) Accept(ctx context.Context, id int64, note string) (*Quote, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var from State
	switch {
	case existing.Status == StatusAccepted && existing.IsLocked:
		return existing, nil
	case existing.Status == StatusAccepted && !existing.IsLocked:
		// A revision can strip the items; an empty quote cannot re-lock.
		if len(existing.Items) == 0 {
			return nil, fmt.Errorf("%w: quote has no items", shared.ErrValidation)
		}
		from = State{Status: StatusAccepted, Locked: false}
	case existing.Status == StatusSent:
		if existing.ExpiredBy(s.now()) {
			if _, err := s.repo.ApplyState(ctx, id, StateChange{
				From: State{Status: StatusSent},
				To:   State{Status: StatusExpired},
			}); err != nil {
				s.logger.Warn("stamp expired quote", slog.Int64("quote_id", id), slog.Any("error", err))
			}
			return nil, fmt.Errorf("%w: quote %s valid until %s", shared.ErrExpired, existing.Number, existing.ValidUntil.Format("2006-01-02"))
		}
		from = State{Status: StatusSent}
	default:
		return nil, fmt.Errorf("%w: cannot accept a %s quote", shared.ErrInvalidTransition, existing.Status)
	}

	now := s.now()
	totals := existing.Totals()
	var notePtr *string
	if note != "" {
		notePtr = &note
	}
	applied, err := s.repo.ApplyState(ctx, id, StateChange{
		From:           from,
		To:             State{Status: StatusAccepted, Locked: true},
		AcceptedAt:     &now,
		AcceptNote:     notePtr,
		AcceptedTotals: &totals,
	})
	if err != nil {
		return nil, fmt.Errorf("accept quote: %w", err)
	}
	if !applied {
		// Lost the race; a concurrent accept is a success for us too.
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == StatusAccepted && current.IsLocked {
			return current, nil
		}
		return nil, shared.ErrConcurrentModification
	}

	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, q, "quote.accepted", from, q.State(), map[string]any{"total": totals.Total})
	s.observeTransition("accept")
	s.invalidateSummary(ctx, q.BusinessID)
	return q, nil
}

// Reject transitions sent to rejected. Reason is mandatory; rejected is
// terminal.
func (s *Service) Reject(ctx context.Context, id int64, reason string) (*Quote, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", shared.ErrValidation)
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusSent {
		return nil, fmt.Errorf("%w: only sent quotes can be rejected", shared.ErrInvalidTransition)
	}

	now := s.now()
	applied, err := s.repo.ApplyState(ctx, id, StateChange{
		From:         State{Status: StatusSent},
		To:           State{Status: StatusRejected},
		RejectedAt:   &now,
		RejectReason: &reason,
	})
	if err != nil {
		return nil, fmt.Errorf("reject quote: %w", err)
	}
	if !applied {
		return nil, shared.ErrConcurrentModification
	}

	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, q, "quote.rejected", State{Status: StatusSent}, q.State(), map[string]any{"reason": reason})
	s.observeTransition("reject")
	s.invalidateSummary(ctx, q.BusinessID)
	return q, nil
}

// CreateRevision snapshots a locked accepted quote and reopens it for
// editing. The quote keeps its accepted status; a later Accept re-locks
// it. Reason is mandatory.
func (s *Service) CreateRevision(ctx context.Context, id int64, reason string) (*Quote, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: revision reason is required", shared.ErrValidation)
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusAccepted || !existing.IsLocked {
		return nil, fmt.Errorf("%w: only accepted locked quotes can be revised", shared.ErrInvalidTransition)
	}

	itemsSnapshot, err := json.Marshal(existing.Items)
	if err != nil {
		return nil, fmt.Errorf("snapshot items: %w", err)
	}
	pricingSnapshot, err := json.Marshal(existing.Pricing)
	if err != nil {
		return nil, fmt.Errorf("snapshot pricing: %w", err)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.InsertRevision(ctx, Revision{
			QuoteID:         id,
			RevisionNumber:  existing.RevisionNumber + 1,
			Reason:          reason,
			ItemsSnapshot:   itemsSnapshot,
			PricingSnapshot: pricingSnapshot,
		}); err != nil {
			return fmt.Errorf("insert revision: %w", err)
		}
		applied, err := repo.ApplyState(ctx, id, StateChange{
			From:         State{Status: StatusAccepted, Locked: true},
			To:           State{Status: StatusAccepted, Locked: false},
			BumpRevision: true,
		})
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

	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, q, "quote.revised", State{Status: StatusAccepted, Locked: true}, q.State(), map[string]any{
		"reason":          reason,
		"revision_number": q.RevisionNumber,
	})
	s.observeTransition("revise")
	return q, nil
}

// Get returns the quote with its derived status.
func (s *Service) Get(ctx context.Context, id int64) (*Quote, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Status = q.EffectiveStatus(s.now())
	return q, nil
}

// Detail returns the quote, freshly recomputed totals and the revision
// history.
func (s *Service) Detail(ctx context.Context, id int64) (*Detail, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	revisions, err := s.repo.ListRevisions(ctx, id)
	if err != nil {
		return nil, err
	}
	totals := q.Totals()
	return &Detail{
		Quote:        *q,
		Totals:       totals,
		TotalDisplay: view.GBP(totals.Total),
		Revisions:    revisions,
	}, nil
}

// List returns quotes matching the filter.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Quote, int, error) {
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

// Summary returns the status breakdown for a business, cached briefly
// for dashboard reads.
func (s *Service) Summary(ctx context.Context, businessID int64) (*Summary, error) {
	key := summaryCacheKey(businessID)
	var cached Summary
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}
	summary, err := s.repo.Summarize(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, summary); err != nil {
		s.logger.Warn("summary cache write failed", slog.Any("error", err))
	}
	return summary, nil
}

// PeekNumber previews the next quote number. Advisory only: it may be
// stale by the time a Create actually allocates.
func (s *Service) PeekNumber(ctx context.Context, businessID int64) (string, error) {
	return s.repo.PeekNumber(ctx, businessID, s.now().Year())
}
