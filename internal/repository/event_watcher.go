package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"quote-tracker/internal/domain"
)

// QuoteEventsChannel is the Postgres NOTIFY channel fired by the
// quote_events insert trigger. The payload is the quote id.
const QuoteEventsChannel = "quote_events"

const (
	listenerMinReconnect = time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// EventWatcher pushes a quote's events to fn in log order: first the events
// already recorded, then each new one once it is appended. Watch returns nil
// when ctx is done.
type EventWatcher interface {
	Watch(ctx context.Context, quoteID uuid.UUID, fn func(domain.Event)) error
}

// EventFeed remembers which events were already delivered to a watcher.
type EventFeed struct {
	seen map[uuid.UUID]struct{}
	fn   func(domain.Event)
}

func NewEventFeed(fn func(domain.Event)) *EventFeed {
	return &EventFeed{seen: make(map[uuid.UUID]struct{}), fn: fn}
}

// Deliver calls fn for every event of the ordered log not delivered yet.
func (f *EventFeed) Deliver(events []domain.Event) {
	for _, ev := range events {
		if _, ok := f.seen[ev.ID]; ok {
			continue
		}
		f.seen[ev.ID] = struct{}{}
		f.fn(ev)
	}
}

type eventWatcher struct {
	dsn    string
	events EventRepository
}

// NewEventWatcher watches quote_events through LISTEN/NOTIFY on a dedicated
// connection per watch.
func NewEventWatcher(dsn string, events EventRepository) EventWatcher {
	return &eventWatcher{dsn: dsn, events: events}
}

func (w *eventWatcher) Watch(ctx context.Context, quoteID uuid.UUID, fn func(domain.Event)) error {
	listener := pq.NewListener(w.dsn, listenerMinReconnect, listenerMaxReconnect, nil)
	defer listener.Close()

	if err := listener.Listen(QuoteEventsChannel); err != nil {
		return err
	}

	feed := NewEventFeed(fn)
	refresh := func() error {
		events, err := w.events.ListEvents(ctx, quoteID)
		if err != nil {
			return err
		}
		feed.Deliver(events)
		return nil
	}
	if err := refresh(); err != nil {
		return err
	}

	target := quoteID.String()
	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// A nil notification follows a reconnect; anything may have been missed.
			if n != nil && n.Extra != target {
				continue
			}
			if err := refresh(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		case <-ping.C:
			go func() { _ = listener.Ping() }()
		}
	}
}
