package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schema string

type Repositories struct {
	User         UserRepository
	Session      SessionRepository
	Notification NotificationRepository
	Quote        QuoteRepository
	Event        EventRepository
	// Watcher is nil when the event store cannot push new events.
	Watcher EventWatcher
}

// NewRepositories builds the Postgres repositories. dsn is used for the
// LISTEN connections of the event watcher.
func NewRepositories(db *sqlx.DB, dsn string) *Repositories {
	events := NewEventRepository(db)
	return &Repositories{
		User:         NewUserRepository(db),
		Session:      NewSessionRepository(db),
		Notification: NewNotificationRepository(db),
		Quote:        NewQuoteRepository(db),
		Event:        events,
		Watcher:      NewEventWatcher(dsn, events),
	}
}

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
