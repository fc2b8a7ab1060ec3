package lifecycle

import (
	"fmt"

	"quote-tracker/internal/domain"
)

// Decision is the guard's verdict for an allowed request.
type Decision struct {
	Current domain.Status
	Kind    domain.EventKind
	// Next is the status after the event; equal to Current when the event is
	// only recorded for history or analytics.
	Next domain.Status
	// Replay is set when the same terminal event is requested again on an
	// already terminal quote. The recorder decides whether it is an
	// idempotent redelivery or a denied re-sign.
	Replay bool
	// Notify marks first opens, signatures and declines.
	Notify bool
}

func (d Decision) Advances() bool {
	return d.Next != d.Current
}

// CanTransition decides whether kind may be recorded on a quote whose
// denormalized status is current. A denial is a *domain.TransitionDeniedError.
func CanTransition(current domain.Status, kind domain.EventKind) (Decision, error) {
	if !kind.IsValid() {
		return Decision{}, fmt.Errorf("%w: %q", domain.ErrInvalidEventKind, kind)
	}
	if !current.IsValid() {
		current = domain.StatusDraft
	}

	d := Decision{Current: current, Kind: kind, Next: current}

	switch kind {
	case domain.EventCreated:
		if current != domain.StatusDraft {
			return Decision{}, deny(current, kind, "quote was already created", false)
		}

	case domain.EventSendFailed:

	case domain.EventSent:
		// Resends are always recorded; they never pull a quote back to sent.
		d.Next = current.Advance(domain.StatusSent)

	case domain.EventOpened:
		// Later opens only count for analytics.
		d.Next = current.Advance(domain.StatusViewed)
		d.Notify = current == domain.StatusDraft || current == domain.StatusSent

	case domain.EventSigned, domain.EventDeclined:
		target := kind.TerminalStatus()
		if current.IsTerminal() {
			if current == target {
				d.Replay = true
				return d, nil
			}
			return Decision{}, deny(current, kind, "quote was already "+string(current), true)
		}
		d.Next = target
		d.Notify = true
	}

	return d, nil
}

func deny(current domain.Status, kind domain.EventKind, reason string, terminal bool) error {
	return &domain.TransitionDeniedError{
		Current:   current,
		Requested: kind,
		Reason:    reason,
		Terminal:  terminal,
	}
}
