package lifecycle

import (
	"time"

	"quote-tracker/internal/domain"
)

// Derive computes the summary of an ordered event log. It has no side
// effects; an empty log is a draft with zero counts.
func Derive(events []domain.Event) domain.StatusSummary {
	var (
		summary                                  domain.StatusSummary
		sawSent, sawOpened, sawSigned, sawDeclined bool
	)

	for _, e := range events {
		switch e.Kind {
		case domain.EventSent:
			sawSent = true
			if summary.SentAt == nil {
				summary.SentAt = timePtr(e.At)
			}
			summary.LastSentAt = timePtr(e.At)
		case domain.EventOpened:
			sawOpened = true
			summary.OpensCount++
			if summary.OpenedAt == nil {
				summary.OpenedAt = timePtr(e.At)
			}
			summary.LastOpenedAt = timePtr(e.At)
		case domain.EventSendFailed:
			summary.SendFailures++
			summary.LastFailureAt = timePtr(e.At)
		case domain.EventSigned:
			sawSigned = true
			if summary.SignedAt == nil {
				summary.SignedAt = timePtr(e.At)
			}
		case domain.EventDeclined:
			sawDeclined = true
			if summary.DeclinedAt == nil {
				summary.DeclinedAt = timePtr(e.At)
			}
		}
	}

	switch {
	case sawSigned:
		summary.Status = domain.StatusSigned
	case sawDeclined:
		summary.Status = domain.StatusDeclined
	case sawOpened:
		summary.Status = domain.StatusViewed
	case sawSent:
		summary.Status = domain.StatusSent
	default:
		summary.Status = domain.StatusDraft
	}

	if len(events) > 0 {
		summary.QuoteID = events[0].QuoteID
	}
	return summary
}

// DeriveFields folds the whole log into the denormalized quote fields.
func DeriveFields(events []domain.Event) domain.StatusFields {
	fields := domain.NewStatusFields()
	for _, e := range events {
		fields = Apply(fields, e)
	}
	return fields
}

// Apply merges one event into the denormalized fields. The merge only moves
// status forward, ORs flags and keeps the earliest timestamp per status, so
// applying a set of events in any order gives the same result as Derive.
func Apply(f domain.StatusFields, e domain.Event) domain.StatusFields {
	out := f
	out.StatusTimestamps = f.StatusTimestamps.Clone()
	if !out.Status.IsValid() {
		out.Status = domain.StatusDraft
	}
	ts := out.StatusTimestamps

	switch e.Kind {
	case domain.EventCreated:
		ts.SetFirst(domain.StatusDraft, e.At)
	case domain.EventSent:
		ts.SetFirst(domain.StatusSent, e.At)
		out.Status = out.Status.Advance(domain.StatusSent)
	case domain.EventOpened:
		out.Viewed = true
		ts.SetFirst(domain.StatusViewed, e.At)
		out.Status = out.Status.Advance(domain.StatusViewed)
	case domain.EventSigned:
		// signed outranks declined, matching Derive.
		out.Signed = true
		out.Declined = false
		out.Status = domain.StatusSigned
		delete(ts, domain.StatusDeclined)
		ts.SetFirst(domain.StatusSigned, e.At)
	case domain.EventDeclined:
		if !out.Signed {
			out.Declined = true
			out.Status = domain.StatusDeclined
			ts.SetFirst(domain.StatusDeclined, e.At)
		}
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}
