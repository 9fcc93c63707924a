package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func pgError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}

// IsSerializationFailure reports whether err is a transaction conflict
// that is safe to retry (serialization failure or deadlock).
func IsSerializationFailure(err error) bool {
	pgErr := pgError(err)
	return pgErr != nil && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}
