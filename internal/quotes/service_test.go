package quotes

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradebooks/tradebooks/internal/numbering"
	"github.com/tradebooks/tradebooks/internal/pricing"
	"github.com/tradebooks/tradebooks/internal/shared"
)

type memoryQuoteRepo struct {
	quotes    map[int64]*Quote
	revisions map[int64][]Revision
	counters  map[string]int64
	nextID    int64
	nextRevID int64

	// failNextApply makes the next ApplyState report a lost CAS race.
	failNextApply bool
}

func newMemoryQuoteRepo() *memoryQuoteRepo {
	return &memoryQuoteRepo{
		quotes:    make(map[int64]*Quote),
		revisions: make(map[int64][]Revision),
		counters:  make(map[string]int64),
	}
}

func (r *memoryQuoteRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryQuoteRepo) Create(ctx context.Context, q Quote) (int64, error) {
	r.nextID++
	q.ID = r.nextID
	q.CreatedAt = time.Now()
	q.UpdatedAt = q.CreatedAt
	r.quotes[q.ID] = &q
	return q.ID, nil
}

func (r *memoryQuoteRepo) Get(ctx context.Context, id int64) (*Quote, error) {
	q, ok := r.quotes[id]
	if !ok {
		return nil, fmt.Errorf("%w: quote %d", shared.ErrNotFound, id)
	}
	cp := *q
	cp.Items = append([]Item(nil), q.Items...)
	return &cp, nil
}

func (r *memoryQuoteRepo) List(ctx context.Context, req ListRequest) ([]Quote, int, error) {
	var out []Quote
	for _, q := range r.quotes {
		if q.BusinessID != req.BusinessID {
			continue
		}
		if req.Status != nil && q.Status != *req.Status {
			continue
		}
		out = append(out, *q)
	}
	return out, len(out), nil
}

func (r *memoryQuoteRepo) Delete(ctx context.Context, id int64) error {
	delete(r.quotes, id)
	return nil
}

func (r *memoryQuoteRepo) ReplaceItems(ctx context.Context, quoteID int64, items []Item) error {
	q, ok := r.quotes[quoteID]
	if !ok {
		return fmt.Errorf("%w: quote %d", shared.ErrNotFound, quoteID)
	}
	q.Items = append([]Item(nil), items...)
	return nil
}

func (r *memoryQuoteRepo) UpdateHeader(ctx context.Context, id int64, upd HeaderUpdate) error {
	q, ok := r.quotes[id]
	if !ok {
		return fmt.Errorf("%w: quote %d", shared.ErrNotFound, id)
	}
	if upd.ClientID != nil {
		q.ClientID = *upd.ClientID
	}
	if upd.Notes != nil {
		q.Notes = upd.Notes
	}
	if upd.ValidUntil != nil {
		q.ValidUntil = upd.ValidUntil
	}
	if upd.Pricing != nil {
		q.Pricing = *upd.Pricing
	}
	q.UpdatedAt = time.Now()
	return nil
}

func (r *memoryQuoteRepo) ApplyState(ctx context.Context, id int64, change StateChange) (bool, error) {
	q, ok := r.quotes[id]
	if !ok {
		return false, fmt.Errorf("%w: quote %d", shared.ErrNotFound, id)
	}
	if r.failNextApply {
		r.failNextApply = false
		return false, nil
	}
	if q.State() != change.From {
		return false, nil
	}
	q.Status = change.To.Status
	q.IsLocked = change.To.Locked
	if change.SentAt != nil {
		q.SentAt = change.SentAt
	}
	if change.AcceptedAt != nil {
		q.AcceptedAt = change.AcceptedAt
	}
	if change.RejectedAt != nil {
		q.RejectedAt = change.RejectedAt
	}
	if change.AcceptNote != nil {
		q.AcceptNote = change.AcceptNote
	}
	if change.RejectReason != nil {
		q.RejectReason = change.RejectReason
	}
	if change.AcceptedTotals != nil {
		q.AcceptedTotals = change.AcceptedTotals
	}
	if change.BumpRevision {
		q.RevisionNumber++
	}
	q.UpdatedAt = time.Now()
	return true, nil
}

func (r *memoryQuoteRepo) InsertRevision(ctx context.Context, rev Revision) (int64, error) {
	r.nextRevID++
	rev.ID = r.nextRevID
	rev.CreatedAt = time.Now()
	r.revisions[rev.QuoteID] = append(r.revisions[rev.QuoteID], rev)
	return rev.ID, nil
}

func (r *memoryQuoteRepo) ListRevisions(ctx context.Context, quoteID int64) ([]Revision, error) {
	return r.revisions[quoteID], nil
}

func (r *memoryQuoteRepo) counterKey(businessID int64, year int) string {
	return fmt.Sprintf("%d/%d", businessID, year)
}

func (r *memoryQuoteRepo) AllocateNumber(ctx context.Context, businessID int64, year int) (string, error) {
	key := r.counterKey(businessID, year)
	r.counters[key]++
	return numbering.Format(numberDocType, year, r.counters[key]), nil
}

func (r *memoryQuoteRepo) PeekNumber(ctx context.Context, businessID int64, year int) (string, error) {
	return numbering.Format(numberDocType, year, r.counters[r.counterKey(businessID, year)]+1), nil
}

func (r *memoryQuoteRepo) Summarize(ctx context.Context, businessID int64) (*Summary, error) {
	summary := &Summary{Counts: make(map[Status]int), PipelineValue: decimal.Zero}
	for _, q := range r.quotes {
		if q.BusinessID != businessID {
			continue
		}
		summary.Counts[q.Status]++
	}
	return summary, nil
}

type recordingAuditor struct {
	entries []shared.AuditEntry
}

func (a *recordingAuditor) RecordOrRetry(ctx context.Context, entry shared.AuditEntry) {
	a.entries = append(a.entries, entry)
}

func testClock() time.Time {
	return time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T) (*Service, *memoryQuoteRepo, *recordingAuditor) {
	t.Helper()
	repo := newMemoryQuoteRepo()
	audit := &recordingAuditor{}
	svc := NewService(repo, audit, nil, nil, nil)
	svc.now = testClock
	return svc, repo, audit
}

func standardItems() []Item {
	return []Item{
		{
			Description: "Boiler installation",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromInt(800),
			ItemType:    pricing.ItemMaterial,
			LineOrder:   1,
		},
		{
			Description: "Labour",
			Quantity:    decimal.NewFromInt(4),
			UnitPrice:   decimal.NewFromInt(50),
			ItemType:    pricing.ItemLabour,
			LineOrder:   2,
		},
	}
}

func standardConfig() pricing.Config {
	return pricing.Config{
		VATRate: decimal.NewFromInt(20),
		Deposit: pricing.Adjustment{Type: pricing.AdjustPercent, Value: decimal.NewFromInt(30)},
	}
}

func mustCreate(t *testing.T, svc *Service) *Quote {
	t.Helper()
	q, err := svc.Create(context.Background(), 1, 42, standardItems(), standardConfig(), nil, nil)
	require.NoError(t, err)
	return q
}

func mustSend(t *testing.T, svc *Service, id int64) *Quote {
	t.Helper()
	q, err := svc.Send(context.Background(), id)
	require.NoError(t, err)
	return q
}

func TestCreateAllocatesSequentialNumbers(t *testing.T) {
	svc, _, audit := newTestService(t)

	first := mustCreate(t, svc)
	second := mustCreate(t, svc)

	require.Equal(t, "QUO-2025-000001", first.Number)
	require.Equal(t, "QUO-2025-000002", second.Number)
	require.Equal(t, StatusDraft, first.Status)
	require.False(t, first.IsLocked)
	require.Len(t, audit.entries, 2)
	require.Equal(t, "quote.created", audit.entries[0].Action)
}

func TestCreateRejectsInvalidItems(t *testing.T) {
	svc, _, _ := newTestService(t)

	items := standardItems()
	items[0].Quantity = decimal.Zero
	_, err := svc.Create(context.Background(), 1, 42, items, standardConfig(), nil, nil)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSendRequiresDraftWithItems(t *testing.T) {
	svc, _, _ := newTestService(t)

	empty, err := svc.Create(context.Background(), 1, 42, nil, standardConfig(), nil, nil)
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), empty.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	q := mustCreate(t, svc)
	sent := mustSend(t, svc, q.ID)
	require.Equal(t, StatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)

	_, err = svc.Send(context.Background(), q.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestAcceptLocksAndFreezesTotals(t *testing.T) {
	svc, _, _ := newTestService(t)

	q := mustCreate(t, svc)
	mustSend(t, svc, q.ID)

	accepted, err := svc.Accept(context.Background(), q.ID, "verbal go-ahead")
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, accepted.Status)
	require.True(t, accepted.IsLocked)
	require.NotNil(t, accepted.AcceptedAt)
	require.NotNil(t, accepted.AcceptNote)

	require.NotNil(t, accepted.AcceptedTotals)
	require.Equal(t, "1000.00", accepted.AcceptedTotals.Subtotal.StringFixed(2))
	require.Equal(t, "1200.00", accepted.AcceptedTotals.Total.StringFixed(2))
	require.NotNil(t, accepted.AcceptedTotals.DepositAmount)
	require.Equal(t, "360.00", accepted.AcceptedTotals.DepositAmount.StringFixed(2))
}

func TestAcceptTwiceIsNoOp(t *testing.T) {
	svc, _, audit := newTestService(t)

	q := mustCreate(t, svc)
	mustSend(t, svc, q.ID)

	_, err := svc.Accept(context.Background(), q.ID, "")
	require.NoError(t, err)
	before := len(audit.entries)

	again, err := svc.Accept(context.Background(), q.ID, "")
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, again.Status)
	require.True(t, again.IsLocked)
	require.Len(t, audit.entries, before)
}

func TestAcceptExpiredQuote(t *testing.T) {
	svc, repo, _ := newTestService(t)

	q := mustCreate(t, svc)
	mustSend(t, svc, q.ID)

	past := testClock().Add(-24 * time.Hour)
	repo.quotes[q.ID].ValidUntil = &past

	_, err := svc.Accept(context.Background(), q.ID, "")
	require.ErrorIs(t, err, shared.ErrExpired)
	require.Equal(t, StatusExpired, repo.quotes[q.ID].Status)
}

func TestAcceptLostRaceToAnotherAccept(t *testing.T) {
	svc, repo, _ := newTestService(t)

	q := mustCreate(t, svc)
	mustSend(t, svc, q.ID)

	// Simulate a concurrent accept landing first: CAS fails, refetch
	// shows the quote already accepted and locked.
	repo.failNextApply = true
	stored := repo.quotes[q.ID]
	stored.Status = StatusAccepted
	stored.IsLocked = true

	accepted, err := svc.Accept(context.Background(), q.ID, "")
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, accepted.Status)
}

func TestSendConcurrentModification(t *testing.T) {
	svc, repo, _ := newTestService(t)

	q := mustCreate(t, svc)
	repo.failNextApply = true

	_, err := svc.Send(context.Background(), q.ID)
	require.ErrorIs(t, err, shared.ErrConcurrentModification)
}

func TestRejectRequiresReasonAndSentStatus(t *testing.T) {
	svc, _, _ := newTestService(t)

	q := mustCreate(t, svc)
	_, err := svc.Reject(context.Background(), q.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Reject(context.Background(), q.ID, "too expensive")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	mustSend(t, svc, q.ID)
	rejected, err := svc.Reject(context.Background(), q.ID, "too expensive")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectReason)

	// Rejected is terminal.
	_, err = svc.Accept(context.Background(), q.ID, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestRevisionReopensLockedQuote(t *testing.T) {
	svc, repo, _ := newTestService(t)

	q := mustCreate(t, svc)
	mustSend(t, svc, q.ID)
	_, err := svc.Accept(context.Background(), q.ID, "")
	require.NoError(t, err)

	// Locked quotes cannot be edited directly.
	notes := "tweak"
	_, err = svc.Update(context.Background(), q.ID, nil, HeaderUpdate{Notes: &notes})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	revised, err := svc.CreateRevision(context.Background(), q.ID, "client wants extra radiator")
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, revised.Status)
	require.False(t, revised.IsLocked)
	require.Equal(t, 1, revised.RevisionNumber)
	require.Len(t, repo.revisions[q.ID], 1)
	require.Equal(t, 1, repo.revisions[q.ID][0].RevisionNumber)

	// Reopened quotes are editable again.
	_, err = svc.Update(context.Background(), q.ID, nil, HeaderUpdate{Notes: &notes})
	require.NoError(t, err)

	// Re-accepting closes the window and locks the quote.
	accepted, err := svc.Accept(context.Background(), q.ID, "")
	require.NoError(t, err)
	require.True(t, accepted.IsLocked)

	_, err = svc.CreateRevision(context.Background(), q.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReacceptRequiresItems(t *testing.T) {
	svc, _, _ := newTestService(t)

	q := mustCreate(t, svc)
	mustSend(t, svc, q.ID)
	_, err := svc.Accept(context.Background(), q.ID, "")
	require.NoError(t, err)
	_, err = svc.CreateRevision(context.Background(), q.ID, "strip the job back")
	require.NoError(t, err)

	// The revision window allows emptying the quote, but an empty quote
	// must not lock back in with zero totals.
	_, err = svc.Update(context.Background(), q.ID, []Item{}, HeaderUpdate{})
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), q.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRevisionRequiresLockedAcceptedQuote(t *testing.T) {
	svc, _, _ := newTestService(t)

	q := mustCreate(t, svc)
	_, err := svc.CreateRevision(context.Background(), q.ID, "reason")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestDeleteOnlyDrafts(t *testing.T) {
	svc, _, _ := newTestService(t)

	q := mustCreate(t, svc)
	mustSend(t, svc, q.ID)
	err := svc.Delete(context.Background(), q.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	draft := mustCreate(t, svc)
	require.NoError(t, svc.Delete(context.Background(), draft.ID))
	_, err = svc.Get(context.Background(), draft.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetDerivesExpiryAtRead(t *testing.T) {
	svc, repo, _ := newTestService(t)

	q := mustCreate(t, svc)
	mustSend(t, svc, q.ID)
	past := testClock().Add(-time.Hour)
	repo.quotes[q.ID].ValidUntil = &past

	got, err := svc.Get(context.Background(), q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)
	// The stored row is untouched until a transition stamps it.
	require.Equal(t, StatusSent, repo.quotes[q.ID].Status)
}

func TestPeekNumberIsAdvisory(t *testing.T) {
	svc, _, _ := newTestService(t)

	next, err := svc.PeekNumber(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "QUO-2025-000001", next)

	q := mustCreate(t, svc)
	require.Equal(t, "QUO-2025-000001", q.Number)

	next, err = svc.PeekNumber(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "QUO-2025-000002", next)
}

func TestDetailRecomputesTotals(t *testing.T) {
	svc, _, _ := newTestService(t)

	q := mustCreate(t, svc)
	detail, err := svc.Detail(context.Background(), q.ID)
	require.NoError(t, err)
	require.Equal(t, "1000.00", detail.Totals.Subtotal.StringFixed(2))
	require.Equal(t, "1200.00", detail.Totals.Total.StringFixed(2))
	require.Empty(t, detail.Revisions)
}
