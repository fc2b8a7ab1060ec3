package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventCreated    EventKind = "created"
	EventSent       EventKind = "sent"
	EventSendFailed EventKind = "send_failed"
	EventOpened     EventKind = "opened"
	EventSigned     EventKind = "signed"
	EventDeclined   EventKind = "declined"
)

// ParseEventKind accepts the stored kinds plus "viewed" as a synonym for
// "opened".
func ParseEventKind(s string) (EventKind, error) {
	kind := EventKind(strings.ToLower(strings.TrimSpace(s)))
	if kind == "viewed" {
		kind = EventOpened
	}
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventKind, s)
	}
	return kind, nil
}

func (k EventKind) IsValid() bool {
	switch k {
	case EventCreated, EventSent, EventSendFailed, EventOpened, EventSigned, EventDeclined:
		return true
	}
	return false
}

func (k EventKind) IsTerminal() bool {
	return k == EventSigned || k == EventDeclined
}

// TerminalStatus maps signed/declined events to their status. Other kinds
// return "".
func (k EventKind) TerminalStatus() Status {
	switch k {
	case EventSigned:
		return StatusSigned
	case EventDeclined:
		return StatusDeclined
	}
	return ""
}

// Event is one immutable entry of a quote's log. At is assigned by the store
// and is non-decreasing within a quote.
type Event struct {
	ID             uuid.UUID `json:"id"`
	QuoteID        uuid.UUID `json:"quote_id"`
	Kind           EventKind `json:"kind"`
	Meta           EventMeta `json:"metadata"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	At             time.Time `json:"at"`
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             uuid.UUID       `json:"id"`
		QuoteID        uuid.UUID       `json:"quote_id"`
		Kind           EventKind       `json:"kind"`
		Meta           json.RawMessage `json:"metadata"`
		IdempotencyKey string          `json:"idempotency_key"`
		At             time.Time       `json:"at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	meta, err := DecodeEventMeta(raw.Kind, raw.Meta)
	if err != nil {
		return err
	}

	*e = Event{
		ID:             raw.ID,
		QuoteID:        raw.QuoteID,
		Kind:           raw.Kind,
		Meta:           meta,
		IdempotencyKey: raw.IdempotencyKey,
		At:             raw.At,
	}
	return nil
}

// DuplicateEventError is returned by event stores when an append collides
// with an event that is already recorded: the quote's single terminal event,
// or an event carrying the same idempotency key.
type DuplicateEventError struct {
	Existing Event
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("event already recorded: %s %s at %s", e.Existing.Kind, e.Existing.ID, e.Existing.At.Format(time.RFC3339))
}

func (e *DuplicateEventError) Unwrap() error {
	return ErrDuplicateEvent
}

type TransitionInput struct {
	Kind           string          `json:"kind" validate:"required"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

type TransitionResult struct {
	EventID  uuid.UUID `json:"event_id"`
	Status   Status    `json:"status"`
	Replayed bool      `json:"replayed"`
}
