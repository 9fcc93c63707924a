// Package numbering issues sequential human-readable document numbers
// scoped to (business, year, document type). Allocation is a single
// atomic increment against the counter row so concurrent callers can
// never receive the same number.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DocumentType doubles as the number prefix.
type DocumentType string

const (
	DocQuote   DocumentType = "QUO"
	DocInvoice DocumentType = "INV"
)

// ErrAllocationFailed is returned once the bounded retries are
// exhausted. No number was committed; the whole operation is safe to
// retry later.
var ErrAllocationFailed = errors.New("numbering: allocation failed")

// CounterKey identifies one counter row.
type CounterKey struct {
	BusinessID int64
	Year       int
	DocType    DocumentType
}

// Store is the persistence port for counters. IncrementAndGet must be
// atomic: two racing first callers on a fresh key must observe 1 and 2,
// never 1 twice.
type Store interface {
	IncrementAndGet(ctx context.Context, key CounterKey) (int64, error)
	Current(ctx context.Context, key CounterKey) (int64, error)
}

// Allocator formats numbers from store sequences with bounded retry on
// transient conflicts.
type Allocator struct {
	store        Store
	attempts     int
	backoff      time.Duration
	onRetry      func()
	nonRetryable func(error) bool
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithRetryHook registers a callback fired before each retry, used for
// metrics.
func WithRetryHook(fn func()) Option {
	return func(a *Allocator) { a.onRetry = fn }
}

// WithNonRetryable registers a predicate for errors that must propagate
// to the caller untouched. Conflicts that abort a surrounding database
// transaction fall in this class: once the transaction is gone, every
// further attempt against it fails too, and the caller owns the retry.
func WithNonRetryable(fn func(error) bool) Option {
	return func(a *Allocator) { a.nonRetryable = fn }
}

// NewAllocator builds an allocator over the given store.
func NewAllocator(store Store, opts ...Option) *Allocator {
	a := &Allocator{store: store, attempts: 3, backoff: 25 * time.Millisecond}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Next allocates the next number for the key, e.g. INV-2026-000001.
func (a *Allocator) Next(ctx context.Context, businessID int64, year int, docType DocumentType) (string, error) {
	key := CounterKey{BusinessID: businessID, Year: year, DocType: docType}
	var lastErr error
	for attempt := 0; attempt < a.attempts; attempt++ {
		if attempt > 0 {
			if a.onRetry != nil {
				a.onRetry()
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(a.backoff * time.Duration(attempt)):
			}
		}
		seq, err := a.store.IncrementAndGet(ctx, key)
		if err == nil {
			return Format(docType, year, seq), nil
		}
		if a.nonRetryable != nil && a.nonRetryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %v", ErrAllocationFailed, lastErr)
}

// Peek returns the number the next call to Next would most likely
// produce. The result is advisory and may be stale by the time Next
// actually runs.
func (a *Allocator) Peek(ctx context.Context, businessID int64, year int, docType DocumentType) (string, error) {
	seq, err := a.store.Current(ctx, CounterKey{BusinessID: businessID, Year: year, DocType: docType})
	if err != nil {
		return "", err
	}
	return Format(docType, year, seq+1), nil
}

// Format renders a document number from its parts.
func Format(docType DocumentType, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", docType, year, seq)
}
