package domain

import (
	"time"
)

// QuoteExport is the archival record of a quote: the quote as stored, its
// full event log and the status derived from that log.
type QuoteExport struct {
	ExportedAt time.Time     `json:"exported_at"`
	Quote      Quote         `json:"quote"`
	Events     []Event       `json:"events"`
	Summary    StatusSummary `json:"summary"`
}
