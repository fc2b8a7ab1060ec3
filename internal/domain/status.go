package domain

import "strings"

type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusViewed   Status = "viewed"
	StatusSigned   Status = "signed"
	StatusDeclined Status = "declined"
)

var AllStatuses = []Status{StatusDraft, StatusSent, StatusViewed, StatusSigned, StatusDeclined}

func ParseStatus(s string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	return status, status.IsValid()
}

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusViewed, StatusSigned, StatusDeclined:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusSigned || s == StatusDeclined
}

// Rank orders statuses by progress: draft < sent < viewed < {signed, declined}.
// Signed and declined share a rank and are not comparable with each other.
// Unknown statuses rank as draft.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusViewed:
		return 2
	case StatusSigned, StatusDeclined:
		return 3
	default:
		return 0
	}
}

// Advance returns the furthest of s and next without ever leaving a terminal
// status.
func (s Status) Advance(next Status) Status {
	if s.IsTerminal() {
		return s
	}
	if next.Rank() > s.Rank() {
		return next
	}
	if !s.IsValid() {
		return StatusDraft
	}
	return s
}
