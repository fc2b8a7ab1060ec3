package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quote-tracker/internal/domain"
)

const defaultMaxAttempts = 10

type RecorderConfig struct {
	// ReplayWindow is how long after a signed/declined event an identical
	// request without a matching idempotency key is treated as a redelivery.
	// Zero only accepts matching keys.
	ReplayWindow time.Duration
	// MaxAttempts bounds the conditional-update retries of one projection.
	MaxAttempts int
	Now         func() time.Time
}

type RecordInput struct {
	QuoteID        uuid.UUID
	Kind           domain.EventKind
	Meta           domain.EventMeta
	IdempotencyKey string
}

type Result struct {
	EventID  uuid.UUID     `json:"event_id"`
	Status   domain.Status `json:"status"`
	Replayed bool          `json:"replayed"`
	Notified bool          `json:"-"`
}

type Reconciliation struct {
	QuoteID  uuid.UUID     `json:"quote_id"`
	Previous domain.Status `json:"previous_status"`
	Status   domain.Status `json:"status"`
	Changed  bool          `json:"changed"`
}

// Recorder appends events to a quote's log and projects them onto the quote
// record. The log is written first; the projection is a conditional update
// that re-applies the merge on conflict, so concurrent writers converge.
type Recorder struct {
	quotes   QuoteStore
	events   EventStore
	notifier Notifier
	observer Observer
	log      zerolog.Logger
	cfg      RecorderConfig
}

func NewRecorder(quotes QuoteStore, events EventStore, log zerolog.Logger, cfg RecorderConfig) *Recorder {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReplayWindow < 0 {
		cfg.ReplayWindow = 0
	}
	return &Recorder{
		quotes: quotes,
		events: events,
		log:    log.With().Str("component", "lifecycle").Logger(),
		cfg:    cfg,
	}
}

func (r *Recorder) SetNotifier(n Notifier) {
	r.notifier = n
}

func (r *Recorder) SetObserver(o Observer) {
	r.observer = o
}

// RequestTransition records kind on the quote without an idempotency key.
func (r *Recorder) RequestTransition(ctx context.Context, quoteID uuid.UUID, kind domain.EventKind, meta domain.EventMeta) (*Result, error) {
	return r.Record(ctx, RecordInput{QuoteID: quoteID, Kind: kind, Meta: meta})
}

// Record guards, appends and projects one event.
//
// Errors: domain.ErrQuoteNotFound, *domain.TransitionDeniedError,
// domain.ErrIdempotencyReused, domain.ErrInvalidEventKind,
// domain.ErrMetaMismatch, or an error wrapping domain.ErrStoreUnavailable.
// When the append succeeded but the projection did not, the error wraps
// ErrStoreUnavailable; retrying with the same idempotency key replays the
// stored event and repairs the quote from the log.
func (r *Recorder) Record(ctx context.Context, in RecordInput) (*Result, error) {
	if !in.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidEventKind, in.Kind)
	}
	meta, err := domain.NormalizeMeta(in.Kind, in.Meta)
	if err != nil {
		return nil, err
	}

	quote, err := r.quotes.Get(ctx, in.QuoteID)
	if err != nil {
		return nil, storeErr(err)
	}
	if quote.IsTrashed() {
		return nil, &domain.TransitionDeniedError{
			Current:   quote.Status,
			Requested: in.Kind,
			Reason:    "quote is in the trash",
		}
	}

	dec, err := CanTransition(quote.Status, in.Kind)
	if err != nil {
		return nil, err
	}
	if dec.Replay {
		return r.replayTerminal(ctx, quote, in)
	}

	event := &domain.Event{
		ID:             uuid.New(),
		QuoteID:        quote.ID,
		Kind:           in.Kind,
		Meta:           meta,
		IdempotencyKey: in.IdempotencyKey,
		At:             r.cfg.Now().UTC(),
	}
	if err := r.events.Append(ctx, event); err != nil {
		var dup *domain.DuplicateEventError
		if errors.As(err, &dup) {
			return r.resolveDuplicate(ctx, quote, in, dup.Existing)
		}
		return nil, storeErr(err)
	}

	logger := r.log.With().
		Str("quote_id", quote.ID.String()).
		Str("event_id", event.ID.String()).
		Str("kind", string(event.Kind)).
		Logger()
	logger.Debug().Time("at", event.At).Msg("event appended")

	status, projErr := r.project(ctx, quote, *event)
	r.observe(ctx, quote.ID)

	result := &Result{EventID: event.ID, Status: status}
	if dec.Notify && r.notifier != nil {
		r.notifier.Notify(ctx, noticeFor(quote, *event))
		result.Notified = true
	}

	if projErr != nil {
		logger.Warn().Err(projErr).Msg("status projection failed, event kept for reconciliation")
		return nil, storeErr(fmt.Errorf("project %s event onto quote %s: %w", event.Kind, quote.ID, projErr))
	}
	return result, nil
}

// replayTerminal handles a signed/declined request on a quote that already
// reached the same terminal status.
func (r *Recorder) replayTerminal(ctx context.Context, quote *domain.Quote, in RecordInput) (*Result, error) {
	events, err := r.events.ListEvents(ctx, quote.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == in.Kind {
			return r.resolveDuplicate(ctx, quote, in, events[i])
		}
	}

	// Fields say terminal but the log has no matching event.
	rec, err := r.Reconcile(ctx, quote.ID)
	if err != nil {
		return nil, err
	}
	return nil, &domain.TransitionDeniedError{
		Current:   rec.Status,
		Requested: in.Kind,
		Reason:    "quote status was out of date, please retry",
	}
}

// resolveDuplicate decides what a collision with an already stored event
// means for the caller: a replay of the same request, a lost terminal race,
// or a reused idempotency key.
func (r *Recorder) resolveDuplicate(ctx context.Context, quote *domain.Quote, in RecordInput, existing domain.Event) (*Result, error) {
	sameKey := in.IdempotencyKey != "" && existing.IdempotencyKey == in.IdempotencyKey

	switch {
	case sameKey && existing.Kind != in.Kind:
		return nil, fmt.Errorf("%w: key %q was used for a %s event", domain.ErrIdempotencyReused, in.IdempotencyKey, existing.Kind)

	case existing.Kind.IsTerminal() && existing.Kind != in.Kind:
		return nil, &domain.TransitionDeniedError{
			Current:   existing.Kind.TerminalStatus(),
			Requested: in.Kind,
			Reason:    "quote was already " + string(existing.Kind.TerminalStatus()),
			Terminal:  true,
		}

	case sameKey || r.withinReplayWindow(existing):
		rec, err := r.Reconcile(ctx, quote.ID)
		if err != nil {
			return nil, err
		}
		r.log.Debug().
			Str("quote_id", quote.ID.String()).
			Str("event_id", existing.ID.String()).
			Str("kind", string(existing.Kind)).
			Msg("replayed recorded event")
		return &Result{EventID: existing.ID, Status: rec.Status, Replayed: true}, nil

	case existing.Kind.IsTerminal():
		return nil, &domain.TransitionDeniedError{
			Current:   existing.Kind.TerminalStatus(),
			Requested: in.Kind,
			Reason:    "quote was already " + string(existing.Kind.TerminalStatus()),
			Terminal:  true,
		}
	}

	return nil, fmt.Errorf("record %s on quote %s: %w", in.Kind, quote.ID, domain.ErrDuplicateEvent)
}

func (r *Recorder) withinReplayWindow(existing domain.Event) bool {
	if r.cfg.ReplayWindow <= 0 {
		return false
	}
	return r.cfg.Now().Sub(existing.At) <= r.cfg.ReplayWindow
}

// project merges event into the quote's status fields with a conditional
// update, re-reading the quote on conflict.
func (r *Recorder) project(ctx context.Context, quote *domain.Quote, event domain.Event) (domain.Status, error) {
	current := quote
	for attempt := 1; ; attempt++ {
		fields := current.StatusFields()
		next := Apply(fields, event)
		if next.Equal(fields) {
			return next.Status, nil
		}

		err := r.quotes.UpdateStatusFields(ctx, current.ID, current.Version(), next)
		if err == nil {
			return next.Status, nil
		}
		if !errors.Is(err, domain.ErrConflictRetry) {
			return "", err
		}
		if attempt >= r.cfg.MaxAttempts {
			return "", fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		current, err = r.quotes.Get(ctx, quote.ID)
		if err != nil {
			return "", err
		}
	}
}

// Reconcile recomputes the quote's status fields from its full log and
// writes them when they differ.
func (r *Recorder) Reconcile(ctx context.Context, quoteID uuid.UUID) (*Reconciliation, error) {
	for attempt := 1; ; attempt++ {
		quote, err := r.quotes.Get(ctx, quoteID)
		if err != nil {
			return nil, storeErr(err)
		}
		events, err := r.events.ListEvents(ctx, quoteID)
		if err != nil {
			return nil, storeErr(err)
		}

		current := quote.StatusFields()
		derived := DeriveFields(events)
		rec := &Reconciliation{QuoteID: quoteID, Previous: current.Status, Status: derived.Status}
		if derived.Equal(current) {
			return rec, nil
		}

		err = r.quotes.UpdateStatusFields(ctx, quoteID, quote.Version(), derived)
		if err == nil {
			rec.Changed = true
			r.log.Info().
				Str("quote_id", quoteID.String()).
				Str("from", string(current.Status)).
				Str("to", string(derived.Status)).
				Msg("reconciled quote status")
			r.observe(ctx, quoteID)
			return rec, nil
		}
		if !errors.Is(err, domain.ErrConflictRetry) || attempt >= r.cfg.MaxAttempts {
			return nil, storeErr(err)
		}
	}
}

// StatusSummary derives the summary from the log. The quote must exist.
func (r *Recorder) StatusSummary(ctx context.Context, quoteID uuid.UUID) (*domain.StatusSummary, error) {
	if _, err := r.quotes.Get(ctx, quoteID); err != nil {
		return nil, storeErr(err)
	}
	events, err := r.events.ListEvents(ctx, quoteID)
	if err != nil {
		return nil, storeErr(err)
	}
	summary := Derive(events)
	summary.QuoteID = quoteID
	return &summary, nil
}

func (r *Recorder) observe(ctx context.Context, quoteID uuid.UUID) {
	if r.observer != nil {
		r.observer.EventRecorded(ctx, quoteID)
	}
}

func noticeFor(quote *domain.Quote, event domain.Event) domain.Notice {
	return domain.Notice{
		QuoteID:     quote.ID,
		QuoteNumber: quote.Number,
		ClientName:  quote.ClientName,
		ClientEmail: quote.ClientEmail,
		CreatedBy:   quote.CreatedBy,
		EventID:     event.ID,
		Kind:        event.Kind,
		Meta:        event.Meta,
		At:          event.At,
	}
}

// storeErr keeps caller-facing errors intact and marks everything else as
// retryable infrastructure failure.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return domain.Unavailable(err)
}
