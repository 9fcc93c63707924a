package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradebooks/tradebooks/internal/numbering"
	"github.com/tradebooks/tradebooks/internal/platform/db"
	"github.com/tradebooks/tradebooks/internal/pricing"
	"github.com/tradebooks/tradebooks/internal/shared"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db        dbtx
	pool      *pgxpool.Pool
	allocHook func()
}

// NewRepository builds the PostgreSQL-backed quote repository. retryHook
// is fired on numbering retries (metrics); it may be nil.
func NewRepository(pool *pgxpool.Pool, retryHook func()) Repository {
	return &repository{db: pool, pool: pool, allocHook: retryHook}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool, allocHook: r.allocHook})
	})
}

const quoteColumns = `id, business_id, client_id, number, status, is_locked, revision_number, parent_quote_id,
	vat_rate, discount_type, discount_value, markup_type, markup_value, deposit_type, deposit_value,
	accepted_totals, notes, valid_until, accept_note, reject_reason,
	created_at, updated_at, sent_at, accepted_at, rejected_at`

func scanQuote(row pgx.Row) (*Quote, error) {
	var q Quote
	var acceptedTotals []byte
	err := row.Scan(
		&q.ID, &q.BusinessID, &q.ClientID, &q.Number, &q.Status, &q.IsLocked, &q.RevisionNumber, &q.ParentQuoteID,
		&q.Pricing.VATRate, &q.Pricing.Discount.Type, &q.Pricing.Discount.Value,
		&q.Pricing.Markup.Type, &q.Pricing.Markup.Value,
		&q.Pricing.Deposit.Type, &q.Pricing.Deposit.Value,
		&acceptedTotals, &q.Notes, &q.ValidUntil, &q.AcceptNote, &q.RejectReason,
		&q.CreatedAt, &q.UpdatedAt, &q.SentAt, &q.AcceptedAt, &q.RejectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if len(acceptedTotals) > 0 {
		var totals pricing.Totals
		if err := json.Unmarshal(acceptedTotals, &totals); err != nil {
			return nil, fmt.Errorf("quotes: decode accepted totals: %w", err)
		}
		q.AcceptedTotals = &totals
	}
	return &q, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Quote, error) {
	q, err := scanQuote(r.db.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Items = items
	return q, nil
}

func (r *repository) listItems(ctx context.Context, quoteID int64) ([]Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quote_id, description, quantity, unit_price, vat_rate, item_type, line_order
		FROM quote_items WHERE quote_id = $1 ORDER BY line_order, id`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.QuoteID, &it.Description, &it.Quantity, &it.UnitPrice, &it.VATRate, &it.ItemType, &it.LineOrder); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) Create(ctx context.Context, q Quote) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quotes (business_id, client_id, number, status, is_locked, revision_number, parent_quote_id,
			vat_rate, discount_type, discount_value, markup_type, markup_value, deposit_type, deposit_value,
			notes, valid_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
		RETURNING id`,
		q.BusinessID, q.ClientID, q.Number, q.Status, q.IsLocked, q.RevisionNumber, q.ParentQuoteID,
		q.Pricing.VATRate, q.Pricing.Discount.Type, q.Pricing.Discount.Value,
		q.Pricing.Markup.Type, q.Pricing.Markup.Value,
		q.Pricing.Deposit.Type, q.Pricing.Deposit.Value,
		q.Notes, q.ValidUntil,
	).Scan(&id)
	return id, err
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]Quote, int, error) {
	where := "WHERE business_id = $1"
	args := []any{req.BusinessID}
	argPos := 2
	if req.ClientID != nil {
		where += fmt.Sprintf(" AND client_id = $%d", argPos)
		args = append(args, *req.ClientID)
		argPos++
	}
	if req.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *req.Status)
		argPos++
	}
	if req.DateFrom != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *req.DateFrom)
		argPos++
	}
	if req.DateTo != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, *req.DateTo)
		argPos++
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM quotes "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM quotes %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		quoteColumns, where, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *q)
	}
	return list, total, rows.Err()
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM quotes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) ReplaceItems(ctx context.Context, quoteID int64, items []Item) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM quote_items WHERE quote_id = $1`, quoteID); err != nil {
		return err
	}
	for i, it := range items {
		order := it.LineOrder
		if order == 0 {
			order = i + 1
		}
		_, err := r.db.Exec(ctx, `
			INSERT INTO quote_items (quote_id, description, quantity, unit_price, vat_rate, item_type, line_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			quoteID, it.Description, it.Quantity, it.UnitPrice, it.VATRate, it.ItemType, order)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) UpdateHeader(ctx context.Context, id int64, upd HeaderUpdate) error {
	query := "UPDATE quotes SET updated_at = NOW()"
	var args []any
	argPos := 1
	if upd.ClientID != nil {
		query += fmt.Sprintf(", client_id = $%d", argPos)
		args = append(args, *upd.ClientID)
		argPos++
	}
	if upd.Notes != nil {
		query += fmt.Sprintf(", notes = $%d", argPos)
		args = append(args, *upd.Notes)
		argPos++
	}
	if upd.ValidUntil != nil {
		query += fmt.Sprintf(", valid_until = $%d", argPos)
		args = append(args, *upd.ValidUntil)
		argPos++
	}
	if upd.Pricing != nil {
		query += fmt.Sprintf(", vat_rate = $%d, discount_type = $%d, discount_value = $%d, markup_type = $%d, markup_value = $%d, deposit_type = $%d, deposit_value = $%d",
			argPos, argPos+1, argPos+2, argPos+3, argPos+4, argPos+5, argPos+6)
		args = append(args,
			upd.Pricing.VATRate, upd.Pricing.Discount.Type, upd.Pricing.Discount.Value,
			upd.Pricing.Markup.Type, upd.Pricing.Markup.Value,
			upd.Pricing.Deposit.Type, upd.Pricing.Deposit.Value)
		argPos += 7
	}
	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) ApplyState(ctx context.Context, id int64, change StateChange) (bool, error) {
	query := "UPDATE quotes SET updated_at = NOW(), status = $1, is_locked = $2"
	to := NormalState(change.To.Status, change.To.Locked)
	args := []any{to.Status, to.Locked}
	argPos := 3
	set := func(column string, value any) {
		query += fmt.Sprintf(", %s = $%d", column, argPos)
		args = append(args, value)
		argPos++
	}
	if change.SentAt != nil {
		set("sent_at", *change.SentAt)
	}
	if change.AcceptedAt != nil {
		set("accepted_at", *change.AcceptedAt)
	}
	if change.RejectedAt != nil {
		set("rejected_at", *change.RejectedAt)
	}
	if change.AcceptNote != nil {
		set("accept_note", *change.AcceptNote)
	}
	if change.RejectReason != nil {
		set("reject_reason", *change.RejectReason)
	}
	if change.AcceptedTotals != nil {
		data, err := json.Marshal(change.AcceptedTotals)
		if err != nil {
			return false, err
		}
		set("accepted_totals", data)
	}
	if change.BumpRevision {
		query += ", revision_number = revision_number + 1"
	}

	from := NormalState(change.From.Status, change.From.Locked)
	query += fmt.Sprintf(" WHERE id = $%d AND status = $%d AND is_locked = $%d", argPos, argPos+1, argPos+2)
	args = append(args, id, from.Status, from.Locked)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) InsertRevision(ctx context.Context, rev Revision) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quote_revisions (quote_id, revision_number, reason, items_snapshot, pricing_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id`,
		rev.QuoteID, rev.RevisionNumber, rev.Reason, []byte(rev.ItemsSnapshot), []byte(rev.PricingSnapshot),
	).Scan(&id)
	return id, err
}

func (r *repository) ListRevisions(ctx context.Context, quoteID int64) ([]Revision, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quote_id, revision_number, reason, items_snapshot, pricing_snapshot, created_at
		FROM quote_revisions WHERE quote_id = $1 ORDER BY revision_number`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var revisions []Revision
	for rows.Next() {
		var rev Revision
		var items, cfg []byte
		if err := rows.Scan(&rev.ID, &rev.QuoteID, &rev.RevisionNumber, &rev.Reason, &items, &cfg, &rev.CreatedAt); err != nil {
			return nil, err
		}
		rev.ItemsSnapshot = json.RawMessage(items)
		rev.PricingSnapshot = json.RawMessage(cfg)
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

func (r *repository) AllocateNumber(ctx context.Context, businessID int64, year int) (string, error) {
	// Conflict aborts bubble up so the enclosing transaction retries as
	// a whole; replaying the increment inside an aborted tx cannot work.
	alloc := numbering.NewAllocator(numbering.NewPGStore(r.db),
		numbering.WithRetryHook(r.allocHook),
		numbering.WithNonRetryable(db.IsSerializationFailure))
	return alloc.Next(ctx, businessID, year, numberDocType)
}

func (r *repository) PeekNumber(ctx context.Context, businessID int64, year int) (string, error) {
	alloc := numbering.NewAllocator(numbering.NewPGStore(r.db))
	return alloc.Peek(ctx, businessID, year, numberDocType)
}

func (r *repository) Summarize(ctx context.Context, businessID int64) (*Summary, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM quotes WHERE business_id = $1 GROUP BY status`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	summary := &Summary{Counts: make(map[Status]int), PipelineValue: decimal.Zero}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		summary.Counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Pipeline value sums line subtotals of open quotes; display-grade
	// only, individual documents always recompute from items.
	err = r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(i.quantity * i.unit_price), 0)
		FROM quotes q JOIN quote_items i ON i.quote_id = q.id
		WHERE q.business_id = $1 AND q.status IN ('draft', 'sent')`, businessID).Scan(&summary.PipelineValue)
	if err != nil {
		return nil, err
	}
	return summary, nil
}
