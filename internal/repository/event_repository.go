package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"quote-tracker/internal/domain"
)

const (
	terminalEventConstraint    = "quote_events_terminal_uniq"
	idempotencyEventConstraint = "quote_events_idem_uniq"

	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type EventRepository interface {
	Append(ctx context.Context, event *domain.Event) error
	ListEvents(ctx context.Context, quoteID uuid.UUID) ([]domain.Event, error)
}

type eventRepository struct {
	db *sqlx.DB
}

func NewEventRepository(db *sqlx.DB) EventRepository {
	return &eventRepository{db: db}
}

type eventRow struct {
	Seq            int64          `db:"seq"`
	ID             uuid.UUID      `db:"id"`
	QuoteID        uuid.UUID      `db:"quote_id"`
	Kind           string         `db:"kind"`
	Metadata       []byte         `db:"metadata"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	At             time.Time      `db:"at"`
}

func (row eventRow) toDomain() (domain.Event, error) {
	kind := domain.EventKind(row.Kind)
	meta, err := domain.DecodeEventMeta(kind, row.Metadata)
	if err != nil {
		return domain.Event{}, fmt.Errorf("decode metadata of event %s: %w", row.ID, err)
	}
	return domain.Event{
		ID:             row.ID,
		QuoteID:        row.QuoteID,
		Kind:           kind,
		Meta:           meta,
		IdempotencyKey: row.IdempotencyKey.String,
		At:             row.At.UTC(),
	}, nil
}

// Append inserts the event with an at no earlier than the quote's latest
// event. Appends to one quote are serialized on the quote row so at follows
// commit order. Unique indexes enforce one terminal event per quote and one
// event per idempotency key.
func (r *eventRepository) Append(ctx context.Context, event *domain.Event) error {
	meta, err := domain.EncodeEventMeta(event.Kind, event.Meta)
	if err != nil {
		return err
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked int
	err = tx.GetContext(ctx, &locked, `SELECT 1 FROM quotes WHERE id = $1 FOR NO KEY UPDATE`, event.QuoteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrQuoteNotFound
		}
		return err
	}

	query := `
		INSERT INTO quote_events (id, quote_id, kind, metadata, idempotency_key, at)
		SELECT $1::uuid, $2::uuid, $3::text, $4::jsonb, NULLIF($5::text, ''),
			GREATEST($6::timestamptz, COALESCE((SELECT MAX(at) FROM quote_events WHERE quote_id = $2), $6::timestamptz))
		RETURNING at`

	var at time.Time
	err = tx.QueryRowxContext(ctx, query,
		event.ID, event.QuoteID, event.Kind, jsonParam(meta), event.IdempotencyKey, event.At,
	).Scan(&at)
	if err != nil {
		_ = tx.Rollback()
		return r.translateAppendError(ctx, event, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	event.At = at.UTC()
	return nil
}

func (r *eventRepository) translateAppendError(ctx context.Context, event *domain.Event, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch string(pqErr.Code) {
	case pqForeignKeyViolation:
		return domain.ErrQuoteNotFound
	case pqUniqueViolation:
		var (
			existing *domain.Event
			lookup   error
		)
		switch pqErr.Constraint {
		case terminalEventConstraint:
			existing, lookup = r.findOne(ctx,
				`SELECT * FROM quote_events WHERE quote_id = $1 AND kind IN ('signed', 'declined') ORDER BY at, seq LIMIT 1`,
				event.QuoteID)
		case idempotencyEventConstraint:
			existing, lookup = r.findOne(ctx,
				`SELECT * FROM quote_events WHERE quote_id = $1 AND idempotency_key = $2 LIMIT 1`,
				event.QuoteID, event.IdempotencyKey)
		default:
			return err
		}
		if lookup != nil {
			return fmt.Errorf("load conflicting event: %w", lookup)
		}
		return &domain.DuplicateEventError{Existing: *existing}
	}
	return err
}

func (r *eventRepository) findOne(ctx context.Context, query string, args ...interface{}) (*domain.Event, error) {
	var row eventRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, err
	}
	event, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *eventRepository) ListEvents(ctx context.Context, quoteID uuid.UUID) ([]domain.Event, error) {
	query := `SELECT * FROM quote_events WHERE quote_id = $1 ORDER BY at ASC, seq ASC`

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, quoteID); err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		event, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
