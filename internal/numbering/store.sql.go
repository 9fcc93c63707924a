package numbering

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so counters can be
// bumped either standalone or inside a caller's transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists counters in the document_number_counters table.
type PGStore struct {
	db Querier
}

// NewPGStore wraps a pool or transaction.
func NewPGStore(db Querier) *PGStore {
	return &PGStore{db: db}
}

// IncrementAndGet seeds the row at 1 on first use, otherwise bumps it.
// The insert-on-conflict form keeps the whole step atomic; it never
// holds the counter open across other I/O.
func (s *PGStore) IncrementAndGet(ctx context.Context, key CounterKey) (int64, error) {
	var seq int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO document_number_counters (business_id, year, doc_type, next_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (business_id, year, doc_type)
		DO UPDATE SET next_number = document_number_counters.next_number + 1
		RETURNING next_number
	`, key.BusinessID, key.Year, string(key.DocType)).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Current reads the last issued sequence, zero when no row exists yet.
func (s *PGStore) Current(ctx context.Context, key CounterKey) (int64, error) {
	var seq int64
	err := s.db.QueryRow(ctx, `
		SELECT next_number FROM document_number_counters
		WHERE business_id = $1 AND year = $2 AND doc_type = $3
	`, key.BusinessID, key.Year, string(key.DocType)).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}
