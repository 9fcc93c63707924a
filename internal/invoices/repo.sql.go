package invoices

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradebooks/tradebooks/internal/numbering"
	"github.com/tradebooks/tradebooks/internal/platform/db"
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

// NewRepository builds the PostgreSQL-backed invoice repository.
// retryHook is fired on numbering retries (metrics); it may be nil.
func NewRepository(pool *pgxpool.Pool, retryHook func()) Repository {
	return &repository{db: pool, pool: pool, allocHook: retryHook}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool, allocHook: r.allocHook})
	})
}

const invoiceColumns = `id, business_id, client_id, quote_id, number, status,
	vat_rate, discount_type, discount_value, markup_type, markup_value, deposit_type, deposit_value,
	notes, due_date, created_at, updated_at, sent_at, paid_at, cancelled_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.BusinessID, &inv.ClientID, &inv.QuoteID, &inv.Number, &inv.Status,
		&inv.Pricing.VATRate, &inv.Pricing.Discount.Type, &inv.Pricing.Discount.Value,
		&inv.Pricing.Markup.Type, &inv.Pricing.Markup.Value,
		&inv.Pricing.Deposit.Type, &inv.Pricing.Deposit.Value,
		&inv.Notes, &inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt, &inv.SentAt, &inv.PaidAt, &inv.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (r *repository) get(ctx context.Context, query string, arg any) (*Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	items, err := r.listItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Invoice, error) {
	return r.get(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

func (r *repository) GetForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return r.get(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
}

func (r *repository) GetByQuoteID(ctx context.Context, quoteID int64) (*Invoice, error) {
	return r.get(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE quote_id = $1`, quoteID)
}

func (r *repository) listItems(ctx context.Context, invoiceID int64) ([]Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, invoice_id, description, quantity, unit_price, vat_rate, item_type, line_order
		FROM invoice_items WHERE invoice_id = $1 ORDER BY line_order, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Quantity, &it.UnitPrice, &it.VATRate, &it.ItemType, &it.LineOrder); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) Create(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO invoices (business_id, client_id, quote_id, number, status,
			vat_rate, discount_type, discount_value, markup_type, markup_value, deposit_type, deposit_value,
			notes, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING id`,
		inv.BusinessID, inv.ClientID, inv.QuoteID, inv.Number, inv.Status,
		inv.Pricing.VATRate, inv.Pricing.Discount.Type, inv.Pricing.Discount.Value,
		inv.Pricing.Markup.Type, inv.Pricing.Markup.Value,
		inv.Pricing.Deposit.Type, inv.Pricing.Deposit.Value,
		inv.Notes, inv.DueDate,
	).Scan(&id)
	return id, err
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]Invoice, int, error) {
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
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM invoices "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM invoices %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		invoiceColumns, where, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *inv)
	}
	return list, total, rows.Err()
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) ReplaceItems(ctx context.Context, invoiceID int64, items []Item) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID); err != nil {
		return err
	}
	for i, it := range items {
		order := it.LineOrder
		if order == 0 {
			order = i + 1
		}
		_, err := r.db.Exec(ctx, `
			INSERT INTO invoice_items (invoice_id, description, quantity, unit_price, vat_rate, item_type, line_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			invoiceID, it.Description, it.Quantity, it.UnitPrice, it.VATRate, it.ItemType, order)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) UpdateHeader(ctx context.Context, id int64, upd HeaderUpdate) error {
	query := "UPDATE invoices SET updated_at = NOW()"
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
	if upd.DueDate != nil {
		query += fmt.Sprintf(", due_date = $%d", argPos)
		args = append(args, *upd.DueDate)
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
	query := "UPDATE invoices SET updated_at = NOW(), status = $1"
	args := []any{change.To}
	argPos := 2
	set := func(column string, value any) {
		query += fmt.Sprintf(", %s = $%d", column, argPos)
		args = append(args, value)
		argPos++
	}
	if change.SentAt != nil {
		set("sent_at", *change.SentAt)
	}
	if change.PaidAt != nil {
		set("paid_at", *change.PaidAt)
	}
	if change.CancelledAt != nil {
		set("cancelled_at", *change.CancelledAt)
	}

	query += fmt.Sprintf(" WHERE id = $%d AND status = $%d", argPos, argPos+1)
	args = append(args, id, change.From)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO invoice_payments (invoice_id, amount, method, reference, received_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		p.InvoiceID, p.Amount, p.Method, p.Reference, p.ReceivedAt,
	).Scan(&id)
	return id, err
}

func (r *repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, received_at
		FROM invoice_payments WHERE invoice_id = $1 ORDER BY received_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.ReceivedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *repository) SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM invoice_payments WHERE invoice_id = $1`, invoiceID,
	).Scan(&sum)
	return sum, err
}

func (r *repository) CountPayments(ctx context.Context, invoiceID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM invoice_payments WHERE invoice_id = $1`, invoiceID,
	).Scan(&count)
	return count, err
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
