package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/repository"
	"quote-tracker/internal/repository/memory"
)

func seedQuote(t *testing.T, store *memory.Store) *domain.Quote {
	t.Helper()
	q := &domain.Quote{ID: uuid.New(), Number: "Q-000001", ClientName: "Dana", CreatedBy: uuid.New()}
	q.SetStatusFields(domain.NewStatusFields())
	require.NoError(t, store.Quotes().Create(context.Background(), q))
	return q
}

func TestQuoteRepository_UpdateStatusFields(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	q := seedQuote(t, store)

	next := domain.StatusFields{Status: domain.StatusSent, StatusTimestamps: domain.StatusTimestamps{domain.StatusSent: time.Now()}}
	require.NoError(t, store.Quotes().UpdateStatusFields(ctx, q.ID, q.Version(), next))

	got, err := store.Quotes().Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
	assert.Equal(t, q.Revision+1, got.Revision)

	// The old version no longer matches.
	err = store.Quotes().UpdateStatusFields(ctx, q.ID, q.Version(), domain.NewStatusFields())
	assert.ErrorIs(t, err, domain.ErrConflictRetry)

	err = store.Quotes().UpdateStatusFields(ctx, uuid.New(), q.Version(), next)
	assert.ErrorIs(t, err, domain.ErrQuoteNotFound)
}

func TestQuoteRepository_ConcurrentCAS(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	q := seedQuote(t, store)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		conflict int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Quotes().UpdateStatusFields(ctx, q.ID, q.Version(), domain.StatusFields{Status: domain.StatusSigned, Signed: true})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if errors.Is(err, domain.ErrConflictRetry) {
				conflict++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 7, conflict)
}

func TestEventRepository_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("Unknown quote", func(t *testing.T) {
		store := memory.New()
		err := store.Events().Append(ctx, &domain.Event{ID: uuid.New(), QuoteID: uuid.New(), Kind: domain.EventSent})
		assert.ErrorIs(t, err, domain.ErrQuoteNotFound)
	})

	t.Run("Single terminal event", func(t *testing.T) {
		store := memory.New()
		q := seedQuote(t, store)

		signed := &domain.Event{ID: uuid.New(), QuoteID: q.ID, Kind: domain.EventSigned, Meta: domain.SignedMeta{SignerName: "Dana"}}
		require.NoError(t, store.Events().Append(ctx, signed))

		err := store.Events().Append(ctx, &domain.Event{ID: uuid.New(), QuoteID: q.ID, Kind: domain.EventDeclined})
		var dup *domain.DuplicateEventError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, signed.ID, dup.Existing.ID)
		assert.ErrorIs(t, err, domain.ErrDuplicateEvent)
	})

	t.Run("Idempotency key", func(t *testing.T) {
		store := memory.New()
		q := seedQuote(t, store)

		first := &domain.Event{ID: uuid.New(), QuoteID: q.ID, Kind: domain.EventSent, IdempotencyKey: "k1"}
		require.NoError(t, store.Events().Append(ctx, first))

		err := store.Events().Append(ctx, &domain.Event{ID: uuid.New(), QuoteID: q.ID, Kind: domain.EventSent, IdempotencyKey: "k1"})
		var dup *domain.DuplicateEventError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, first.ID, dup.Existing.ID)

		// Keys are scoped to a quote.
		other := seedQuote(t, store)
		assert.NoError(t, store.Events().Append(ctx, &domain.Event{ID: uuid.New(), QuoteID: other.ID, Kind: domain.EventSent, IdempotencyKey: "k1"}))
	})

	t.Run("Times never go backwards", func(t *testing.T) {
		store := memory.New()
		q := seedQuote(t, store)
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, store.Events().Append(ctx, &domain.Event{ID: uuid.New(), QuoteID: q.ID, Kind: domain.EventSent, At: base}))
		late := &domain.Event{ID: uuid.New(), QuoteID: q.ID, Kind: domain.EventOpened, At: base.Add(-time.Minute)}
		require.NoError(t, store.Events().Append(ctx, late))
		assert.Equal(t, base, late.At)

		events, err := store.Events().ListEvents(ctx, q.ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, domain.EventSent, events[0].Kind)
		assert.Equal(t, domain.OpenedMeta{}, events[1].Meta)
	})
}

func TestEventRepository_Watch(t *testing.T) {
	store := memory.New()
	q := seedQuote(t, store)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, store.Events().Append(ctx, &domain.Event{ID: uuid.New(), QuoteID: q.ID, Kind: domain.EventCreated}))

	watcher, ok := store.Events().(repository.EventWatcher)
	require.True(t, ok)

	got := make(chan domain.Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- watcher.Watch(ctx, q.ID, func(ev domain.Event) { got <- ev })
	}()

	first := <-got
	assert.Equal(t, domain.EventCreated, first.Kind)

	require.NoError(t, store.Events().Append(ctx, &domain.Event{ID: uuid.New(), QuoteID: q.ID, Kind: domain.EventSent}))
	select {
	case ev := <-got:
		assert.Equal(t, domain.EventSent, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("appended event was not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Empty(t, got)
}

func TestNotificationRepository_MarkAsRead(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	userID := uuid.New()

	n := &domain.Notification{ID: uuid.New(), UserID: userID, Type: domain.NotifQuoteSigned, Title: "Quote signed"}
	require.NoError(t, store.Notifications().Create(ctx, n))

	count, err := store.Notifications().CountUnread(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.ErrorIs(t, store.Notifications().MarkAsRead(ctx, n.ID, uuid.New()), domain.ErrNotificationNotFound)
	require.NoError(t, store.Notifications().MarkAsRead(ctx, n.ID, userID))

	count, err = store.Notifications().CountUnread(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, count)
}
