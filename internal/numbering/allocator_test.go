package numbering

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu       sync.Mutex
	counters map[CounterKey]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{counters: make(map[CounterKey]int64)}
}

func (s *memoryStore) IncrementAndGet(ctx context.Context, key CounterKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

func (s *memoryStore) Current(ctx context.Context, key CounterKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

type flakyStore struct {
	*memoryStore
	mu       sync.Mutex
	failures int
	err      error
}

func (s *flakyStore) IncrementAndGet(ctx context.Context, key CounterKey) (int64, error) {
	s.mu.Lock()
	remaining := s.failures
	if remaining > 0 {
		s.failures--
	}
	s.mu.Unlock()
	if remaining > 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, errors.New("store conflict")
	}
	return s.memoryStore.IncrementAndGet(ctx, key)
}

func TestNextFormatsFirstNumber(t *testing.T) {
	alloc := NewAllocator(newMemoryStore())

	num, err := alloc.Next(context.Background(), 1, 2026, DocInvoice)
	require.NoError(t, err)
	require.Equal(t, "INV-2026-000001", num)

	num, err = alloc.Next(context.Background(), 1, 2026, DocInvoice)
	require.NoError(t, err)
	require.Equal(t, "INV-2026-000002", num)
}

func TestNextScopesByKey(t *testing.T) {
	alloc := NewAllocator(newMemoryStore())
	ctx := context.Background()

	first, err := alloc.Next(ctx, 1, 2026, DocInvoice)
	require.NoError(t, err)
	quote, err := alloc.Next(ctx, 1, 2026, DocQuote)
	require.NoError(t, err)
	other, err := alloc.Next(ctx, 2, 2026, DocInvoice)
	require.NoError(t, err)
	nextYear, err := alloc.Next(ctx, 1, 2027, DocInvoice)
	require.NoError(t, err)

	require.Equal(t, "INV-2026-000001", first)
	require.Equal(t, "QUO-2026-000001", quote)
	require.Equal(t, "INV-2026-000001", other)
	require.Equal(t, "INV-2027-000001", nextYear)
}

func TestNextConcurrentCallersGetContiguousRun(t *testing.T) {
	alloc := NewAllocator(newMemoryStore())
	const n = 64

	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			num, err := alloc.Next(context.Background(), 7, 2026, DocQuote)
			require.NoError(t, err)
			results[i] = num
		}(i)
	}
	wg.Wait()

	sort.Strings(results)
	for i := 0; i < n; i++ {
		require.Equal(t, Format(DocQuote, 2026, int64(i+1)), results[i])
	}
}

func TestNextRetriesTransientConflicts(t *testing.T) {
	store := &flakyStore{memoryStore: newMemoryStore(), failures: 2}
	retries := 0
	alloc := NewAllocator(store, WithRetryHook(func() { retries++ }))
	alloc.backoff = 0

	num, err := alloc.Next(context.Background(), 1, 2026, DocInvoice)
	require.NoError(t, err)
	require.Equal(t, "INV-2026-000001", num)
	require.Equal(t, 2, retries)
}

func TestNextExhaustsRetries(t *testing.T) {
	store := &flakyStore{memoryStore: newMemoryStore(), failures: 10}
	alloc := NewAllocator(store)
	alloc.backoff = 0

	_, err := alloc.Next(context.Background(), 1, 2026, DocInvoice)
	require.ErrorIs(t, err, ErrAllocationFailed)

	// Nothing was issued; the next successful call still starts at 1.
	store.failures = 0
	num, err := alloc.Next(context.Background(), 1, 2026, DocInvoice)
	require.NoError(t, err)
	require.Equal(t, "INV-2026-000001", num)
}

func TestNextPropagatesNonRetryableErrors(t *testing.T) {
	aborted := errors.New("transaction is aborted")
	store := &flakyStore{memoryStore: newMemoryStore(), failures: 10}
	store.err = aborted
	retries := 0
	alloc := NewAllocator(store,
		WithRetryHook(func() { retries++ }),
		WithNonRetryable(func(err error) bool { return errors.Is(err, aborted) }))
	alloc.backoff = 0

	_, err := alloc.Next(context.Background(), 1, 2026, DocInvoice)
	require.ErrorIs(t, err, aborted)
	require.NotErrorIs(t, err, ErrAllocationFailed)
	require.Zero(t, retries)
}

func TestPeekDoesNotMutate(t *testing.T) {
	alloc := NewAllocator(newMemoryStore())
	ctx := context.Background()

	preview, err := alloc.Peek(ctx, 1, 2026, DocQuote)
	require.NoError(t, err)
	require.Equal(t, "QUO-2026-000001", preview)

	preview, err = alloc.Peek(ctx, 1, 2026, DocQuote)
	require.NoError(t, err)
	require.Equal(t, "QUO-2026-000001", preview)

	num, err := alloc.Next(ctx, 1, 2026, DocQuote)
	require.NoError(t, err)
	require.Equal(t, "QUO-2026-000001", num)

	preview, err = alloc.Peek(ctx, 1, 2026, DocQuote)
	require.NoError(t, err)
	require.Equal(t, "QUO-2026-000002", preview)
}
