// Package lifecycle holds the quote state machine: deriving status from the
// event log, guarding transitions, and recording events while keeping the
// quote record's denormalized status fields converged with the log.
package lifecycle

import (
	"context"

	"github.com/google/uuid"

	"quote-tracker/internal/domain"
)

// QuoteStore is the slice of the quote repository the recorder needs.
//
// Get returns domain.ErrQuoteNotFound for unknown ids. UpdateStatusFields
// writes fields only while the stored status and revision equal expected,
// bumping the revision; otherwise it returns domain.ErrConflictRetry.
type QuoteStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Quote, error)
	UpdateStatusFields(ctx context.Context, id uuid.UUID, expected domain.StatusVersion, fields domain.StatusFields) error
}

// EventStore is the append-only quote log.
//
// Append assigns event.At so that it never precedes the quote's latest event.
// It must reject a second signed/declined event for a quote, and an event
// whose idempotency key was already used for the quote, with a
// *domain.DuplicateEventError describing the stored event. ListEvents
// returns events ordered by At ascending.
type EventStore interface {
	Append(ctx context.Context, event *domain.Event) error
	ListEvents(ctx context.Context, quoteID uuid.UUID) ([]domain.Event, error)
}

// Notifier receives a notice after a transition is durable. Implementations
// must not block the caller and must not report failures.
type Notifier interface {
	Notify(ctx context.Context, notice domain.Notice)
}

// Observer is told about every event the recorder appends or repairs from.
type Observer interface {
	EventRecorded(ctx context.Context, quoteID uuid.UUID)
}
