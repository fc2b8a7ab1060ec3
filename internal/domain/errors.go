package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrQuoteNotFound        = fmt.Errorf("quote %w", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)

	ErrTransitionDenied = errors.New("transition denied")
	ErrAlreadyTerminal  = errors.New("quote already signed or declined")

	// ErrStoreUnavailable marks transient infrastructure failures. Callers may
	// retry with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConflictRetry is returned by conditional status updates when the
	// stored status or revision no longer matches the expected one.
	ErrConflictRetry  = errors.New("conflicting status update")
	ErrDuplicateEvent = errors.New("duplicate event")

	ErrInvalidEventKind   = errors.New("invalid event kind")
	ErrMetaMismatch       = errors.New("event metadata does not match kind")
	ErrIdempotencyReused  = errors.New("idempotency key already used for a different event")
	ErrValidation         = errors.New("validation failed")
	ErrQuoteLocked        = errors.New("quote is signed or declined and can no longer be edited")
	ErrQuoteTrashed       = errors.New("quote is in the trash")
	ErrInvalidPDF         = errors.New("invalid PDF document")
	ErrInvalidSignature   = errors.New("invalid signature image")
	ErrMissingClientEmail = errors.New("quote has no client email")
)

// TransitionDeniedError is returned when the lifecycle guard rejects a
// requested event for the quote's current status.
type TransitionDeniedError struct {
	Current   Status
	Requested EventKind
	Reason    string
	Terminal  bool
}

func (e *TransitionDeniedError) Error() string {
	return fmt.Sprintf("cannot record %s on %s quote: %s", e.Requested, e.Current, e.Reason)
}

func (e *TransitionDeniedError) Unwrap() []error {
	if e.Terminal {
		return []error{ErrTransitionDenied, ErrAlreadyTerminal}
	}
	return []error{ErrTransitionDenied}
}

// UserMessage is the text shown to the actor who initiated the transition.
func (e *TransitionDeniedError) UserMessage() string {
	switch {
	case e.Current == StatusSigned:
		return "This quote was already signed and cannot be modified."
	case e.Current == StatusDeclined:
		return "This quote was already declined and cannot be modified."
	case e.Reason != "":
		return "This action is not allowed: " + e.Reason + "."
	}
	return "This action is not allowed for the quote's current status."
}

func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
