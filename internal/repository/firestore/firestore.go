// Package firestore stores quotes and their event logs in Cloud Firestore.
//
// Layout:
//
//	quotes/{quoteID}                      quote document
//	quotes/{quoteID}/events/{eventID}     one document per event
//	quotes/{quoteID}/eventKeys/{key}      uniqueness markers ("terminal", "idem-<hash>")
//	counters/quotes                       quote number sequence
//
// Appends and status updates run in transactions, which gives the same
// guarantees as the Postgres constraints.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/repository"
)

const (
	quotesCollection   = "quotes"
	eventsCollection   = "events"
	keysCollection     = "eventKeys"
	countersCollection = "counters"
	quoteCounterDoc    = "quotes"
	terminalKey        = "terminal"
	firstQuoteNumber   = 1000
)

type itemDoc struct {
	Type           string  `firestore:"type"`
	Style          string  `firestore:"style"`
	Material       string  `firestore:"material"`
	WidthIn        float64 `firestore:"widthIn"`
	HeightIn       float64 `firestore:"heightIn"`
	Quantity       int64   `firestore:"quantity"`
	UnitPriceCents int64   `firestore:"unitPriceCents"`
	Description    string  `firestore:"description"`
}

type quoteDoc struct {
	Number           string               `firestore:"number"`
	ClientName       string               `firestore:"clientName"`
	ClientEmail      string               `firestore:"clientEmail"`
	ClientPhone      *string              `firestore:"clientPhone"`
	ClientAddress    *string              `firestore:"clientAddress"`
	Items            []itemDoc            `firestore:"items"`
	SubtotalCents    int64                `firestore:"subtotalCents"`
	TaxRate          float64              `firestore:"taxRate"`
	TaxCents         int64                `firestore:"taxCents"`
	TotalCents       int64                `firestore:"totalCents"`
	Notes            *string              `firestore:"notes"`
	PDFRef           *string              `firestore:"pdfRef"`
	CreatedBy        string               `firestore:"createdBy"`
	CreatedAt        time.Time            `firestore:"createdAt"`
	UpdatedAt        time.Time            `firestore:"updatedAt"`
	DeletedAt        *time.Time           `firestore:"deletedAt"`
	Trashed          bool                 `firestore:"trashed"`
	Status           string               `firestore:"status"`
	Viewed           bool                 `firestore:"viewed"`
	Signed           bool                 `firestore:"signed"`
	Declined         bool                 `firestore:"declined"`
	StatusTimestamps map[string]time.Time `firestore:"statusTimestamps"`
	Revision         int64                `firestore:"revision"`
	EventCount       int64                `firestore:"eventCount"`
	LastEventAt      time.Time            `firestore:"lastEventAt"`
}

type eventDoc struct {
	Kind           string    `firestore:"kind"`
	Metadata       string    `firestore:"metadata"`
	IdempotencyKey string    `firestore:"idempotencyKey"`
	At             time.Time `firestore:"at"`
	Seq            int64     `firestore:"seq"`
}

type keyDoc struct {
	EventID string `firestore:"eventId"`
}

type counterDoc struct {
	Value int64 `firestore:"value"`
}

func toQuoteDoc(q *domain.Quote) quoteDoc {
	items := make([]itemDoc, 0, len(q.Items))
	for _, it := range q.Items {
		items = append(items, itemDoc{
			Type:           it.Type,
			Style:          it.Style,
			Material:       it.Material,
			WidthIn:        it.WidthIn,
			HeightIn:       it.HeightIn,
			Quantity:       int64(it.Quantity),
			UnitPriceCents: it.UnitPriceCents,
			Description:    it.Description,
		})
	}
	return quoteDoc{
		Number:           q.Number,
		ClientName:       q.ClientName,
		ClientEmail:      q.ClientEmail,
		ClientPhone:      q.ClientPhone,
		ClientAddress:    q.ClientAddress,
		Items:            items,
		SubtotalCents:    q.SubtotalCents,
		TaxRate:          q.TaxRate,
		TaxCents:         q.TaxCents,
		TotalCents:       q.TotalCents,
		Notes:            q.Notes,
		PDFRef:           q.PDFRef,
		CreatedBy:        q.CreatedBy.String(),
		CreatedAt:        q.CreatedAt,
		UpdatedAt:        q.UpdatedAt,
		DeletedAt:        q.DeletedAt,
		Trashed:          q.DeletedAt != nil,
		Status:           string(q.Status),
		Viewed:           q.Viewed,
		Signed:           q.Signed,
		Declined:         q.Declined,
		StatusTimestamps: timestampsDoc(q.StatusTimestamps),
		Revision:         q.Revision,
	}
}

func (d quoteDoc) toDomain(id string) (*domain.Quote, error) {
	quoteID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid quote document id %q: %w", id, err)
	}
	createdBy, _ := uuid.Parse(d.CreatedBy)

	items := make(domain.LineItems, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, domain.LineItem{
			Type:           it.Type,
			Style:          it.Style,
			Material:       it.Material,
			WidthIn:        it.WidthIn,
			HeightIn:       it.HeightIn,
			Quantity:       int(it.Quantity),
			UnitPriceCents: it.UnitPriceCents,
			Description:    it.Description,
		})
	}

	ts := domain.StatusTimestamps{}
	for k, v := range d.StatusTimestamps {
		ts[domain.Status(k)] = v.UTC()
	}

	return &domain.Quote{
		ID:               quoteID,
		Number:           d.Number,
		ClientName:       d.ClientName,
		ClientEmail:      d.ClientEmail,
		ClientPhone:      d.ClientPhone,
		ClientAddress:    d.ClientAddress,
		Items:            items,
		SubtotalCents:    d.SubtotalCents,
		TaxRate:          d.TaxRate,
		TaxCents:         d.TaxCents,
		TotalCents:       d.TotalCents,
		Notes:            d.Notes,
		PDFRef:           d.PDFRef,
		CreatedBy:        createdBy,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
		DeletedAt:        d.DeletedAt,
		Status:           domain.Status(d.Status),
		Viewed:           d.Viewed,
		Signed:           d.Signed,
		Declined:         d.Declined,
		StatusTimestamps: ts,
		Revision:         d.Revision,
	}, nil
}

func timestampsDoc(ts domain.StatusTimestamps) map[string]time.Time {
	out := make(map[string]time.Time, len(ts))
	for k, v := range ts {
		out[string(k)] = v
	}
	return out
}

func (d eventDoc) toDomain(id string, quoteID uuid.UUID) (domain.Event, error) {
	eventID, err := uuid.Parse(id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("invalid event document id %q: %w", id, err)
	}
	kind := domain.EventKind(d.Kind)
	meta, err := domain.DecodeEventMeta(kind, []byte(d.Metadata))
	if err != nil {
		return domain.Event{}, fmt.Errorf("decode metadata of event %s: %w", id, err)
	}
	return domain.Event{
		ID:             eventID,
		QuoteID:        quoteID,
		Kind:           kind,
		Meta:           meta,
		IdempotencyKey: d.IdempotencyKey,
		At:             d.At.UTC(),
	}, nil
}

// idempotencyKeyID hashes the caller's key into a valid document id.
func idempotencyKeyID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "idem-" + hex.EncodeToString(sum[:])
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func isConflict(err error) bool {
	switch status.Code(err) {
	case codes.Aborted, codes.AlreadyExists, codes.FailedPrecondition:
		return true
	}
	return false
}

type quoteRepository struct {
	client *gcfirestore.Client
	now    func() time.Time
}

func NewQuoteRepository(client *gcfirestore.Client) repository.QuoteRepository {
	return &quoteRepository{client: client, now: func() time.Time { return time.Now().UTC() }}
}

func (r *quoteRepository) doc(id uuid.UUID) *gcfirestore.DocumentRef {
	return r.client.Collection(quotesCollection).Doc(id.String())
}

func (r *quoteRepository) Create(ctx context.Context, quote *domain.Quote) error {
	now := r.now()
	quote.CreatedAt = now
	quote.UpdatedAt = now
	if quote.StatusTimestamps == nil {
		quote.StatusTimestamps = domain.StatusTimestamps{}
	}

	if _, err := r.doc(quote.ID).Create(ctx, toQuoteDoc(quote)); err != nil {
		return fmt.Errorf("failed to create quote document: %w", err)
	}
	return nil
}

func (r *quoteRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Quote, error) {
	snap, err := r.doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, domain.ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeQuote(snap)
}

func decodeQuote(snap *gcfirestore.DocumentSnapshot) (*domain.Quote, error) {
	var d quoteDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode quote %s: %w", snap.Ref.ID, err)
	}
	return d.toDomain(snap.Ref.ID)
}

func (r *quoteRepository) List(ctx context.Context, filter domain.QuoteFilter, params domain.PaginationParams) ([]domain.Quote, int64, error) {
	params.Validate()

	query := r.client.Collection(quotesCollection).Query
	switch {
	case filter.TrashedOnly:
		query = query.Where("trashed", "==", true)
	case !filter.IncludeTrashed:
		query = query.Where("trashed", "==", false)
	}
	if filter.Status != nil {
		query = query.Where("status", "==", string(*filter.Status))
	}

	agg, err := query.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count quotes: %w", err)
	}
	var total int64
	if v, ok := agg["all"].(*firestorepb.Value); ok {
		total = v.GetIntegerValue()
	}

	iter := query.OrderBy("createdAt", gcfirestore.Desc).
		Offset(params.Offset()).
		Limit(params.PageSize).
		Documents(ctx)
	defer iter.Stop()

	var quotes []domain.Quote
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		q, err := decodeQuote(snap)
		if err != nil {
			return nil, 0, err
		}
		quotes = append(quotes, *q)
	}
	return quotes, total, nil
}

func (r *quoteRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	refs, err := r.client.Collection(quotesCollection).DocumentRefs(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(refs))
	for _, ref := range refs {
		id, err := uuid.Parse(ref.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CountByStatus runs one count aggregation per status.
func (r *quoteRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	base := r.client.Collection(quotesCollection).Where("trashed", "==", false)

	counts := make(map[domain.Status]int64, len(domain.AllStatuses))
	for _, status := range domain.AllStatuses {
		q := base.Where("status", "==", string(status))
		agg, err := q.NewAggregationQuery().WithCount("n").Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s quotes: %w", status, err)
		}
		if v, ok := agg["n"].(*firestorepb.Value); ok && v.GetIntegerValue() > 0 {
			counts[status] = v.GetIntegerValue()
		}
	}
	return counts, nil
}

func (r *quoteRepository) Update(ctx context.Context, quote *domain.Quote) error {
	ref := r.doc(quote.ID)
	now := r.now()

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var d quoteDoc
		if err := snap.DataTo(&d); err != nil {
			return err
		}
		if d.Signed || d.Declined {
			return domain.ErrQuoteLocked
		}

		updated := toQuoteDoc(quote)
		return tx.Update(ref, []gcfirestore.Update{
			{Path: "clientName", Value: updated.ClientName},
			{Path: "clientEmail", Value: updated.ClientEmail},
			{Path: "clientPhone", Value: updated.ClientPhone},
			{Path: "clientAddress", Value: updated.ClientAddress},
			{Path: "items", Value: updated.Items},
			{Path: "subtotalCents", Value: updated.SubtotalCents},
			{Path: "taxRate", Value: updated.TaxRate},
			{Path: "taxCents", Value: updated.TaxCents},
			{Path: "totalCents", Value: updated.TotalCents},
			{Path: "notes", Value: updated.Notes},
			{Path: "updatedAt", Value: now},
		})
	})
	if isNotFound(err) {
		return domain.ErrQuoteNotFound
	}
	if err != nil {
		return err
	}
	quote.UpdatedAt = now
	return nil
}

func (r *quoteRepository) SetPDFRef(ctx context.Context, id uuid.UUID, ref *string) error {
	return r.update(ctx, id, []gcfirestore.Update{
		{Path: "pdfRef", Value: ref},
	})
}

func (r *quoteRepository) UpdateStatusFields(ctx context.Context, id uuid.UUID, expected domain.StatusVersion, fields domain.StatusFields) error {
	ref := r.doc(id)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var d quoteDoc
		if err := snap.DataTo(&d); err != nil {
			return err
		}
		if domain.Status(d.Status) != expected.Status || d.Revision != expected.Revision {
			return domain.ErrConflictRetry
		}

		return tx.Update(ref, []gcfirestore.Update{
			{Path: "status", Value: string(fields.Status)},
			{Path: "viewed", Value: fields.Viewed},
			{Path: "signed", Value: fields.Signed},
			{Path: "declined", Value: fields.Declined},
			{Path: "statusTimestamps", Value: timestampsDoc(fields.StatusTimestamps)},
			{Path: "revision", Value: gcfirestore.Increment(1)},
			{Path: "updatedAt", Value: r.now()},
		})
	}, gcfirestore.MaxAttempts(1))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrConflictRetry):
		return err
	case isNotFound(err):
		return domain.ErrQuoteNotFound
	case isConflict(err):
		return domain.ErrConflictRetry
	}
	return err
}

func (r *quoteRepository) Trash(ctx context.Context, id uuid.UUID) error {
	now := r.now()
	return r.update(ctx, id, []gcfirestore.Update{
		{Path: "deletedAt", Value: now},
		{Path: "trashed", Value: true},
	})
}

func (r *quoteRepository) Restore(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, []gcfirestore.Update{
		{Path: "deletedAt", Value: nil},
		{Path: "trashed", Value: false},
	})
}

// Delete removes the quote with its events and key markers.
func (r *quoteRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ref := r.doc(id)
	if _, err := ref.Get(ctx); err != nil {
		if isNotFound(err) {
			return domain.ErrQuoteNotFound
		}
		return err
	}

	bw := r.client.BulkWriter(ctx)
	var jobs []writeJob
	for _, coll := range []string{eventsCollection, keysCollection} {
		refs, err := ref.Collection(coll).DocumentRefs(ctx).GetAll()
		if err != nil {
			bw.End()
			return err
		}
		for _, child := range refs {
			job, err := bw.Delete(child)
			if err != nil {
				bw.End()
				return err
			}
			jobs = append(jobs, job)
		}
	}
	job, err := bw.Delete(ref)
	if err != nil {
		bw.End()
		return err
	}
	jobs = append(jobs, job)
	bw.End()

	return firstWriteError(id, jobs)
}

// writeJob is a queued bulk write; *firestore.BulkWriterJob satisfies it.
type writeJob interface {
	Results() (*gcfirestore.WriteResult, error)
}

// firstWriteError waits on every queued write and reports the first failure.
func firstWriteError(id uuid.UUID, jobs []writeJob) error {
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to delete quote %s: %w", id, err)
		}
	}
	return nil
}

func (r *quoteRepository) NextNumber(ctx context.Context) (string, error) {
	ref := r.client.Collection(countersCollection).Doc(quoteCounterDoc)

	var next int64
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		next = firstQuoteNumber
		snap, err := tx.Get(ref)
		switch {
		case isNotFound(err):
		case err != nil:
			return err
		default:
			var c counterDoc
			if err := snap.DataTo(&c); err != nil {
				return err
			}
			next = c.Value + 1
		}
		return tx.Set(ref, counterDoc{Value: next})
	})
	if err != nil {
		return "", fmt.Errorf("failed to allocate quote number: %w", err)
	}
	return repository.FormatQuoteNumber(next), nil
}

func (r *quoteRepository) update(ctx context.Context, id uuid.UUID, updates []gcfirestore.Update) error {
	updates = append(updates, gcfirestore.Update{Path: "updatedAt", Value: r.now()})
	_, err := r.doc(id).Update(ctx, updates)
	if isNotFound(err) {
		return domain.ErrQuoteNotFound
	}
	return err
}

type eventRepository struct {
	client *gcfirestore.Client
}

func NewEventRepository(client *gcfirestore.Client) repository.EventRepository {
	return &eventRepository{client: client}
}

// Append writes the event, its uniqueness markers and the quote's event
// counter in one transaction. A reused idempotency key or a second terminal
// event returns *domain.DuplicateEventError.
func (r *eventRepository) Append(ctx context.Context, event *domain.Event) error {
	meta, err := domain.NormalizeMeta(event.Kind, event.Meta)
	if err != nil {
		return err
	}
	encoded, err := domain.EncodeEventMeta(event.Kind, meta)
	if err != nil {
		return err
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	quoteRef := r.client.Collection(quotesCollection).Doc(event.QuoteID.String())
	eventRef := quoteRef.Collection(eventsCollection).Doc(event.ID.String())
	keys := quoteRef.Collection(keysCollection)

	var markers []*gcfirestore.DocumentRef
	if event.IdempotencyKey != "" {
		markers = append(markers, keys.Doc(idempotencyKeyID(event.IdempotencyKey)))
	}
	if event.Kind.IsTerminal() {
		markers = append(markers, keys.Doc(terminalKey))
	}

	var storedAt time.Time
	err = r.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		snap, err := tx.Get(quoteRef)
		if isNotFound(err) {
			return domain.ErrQuoteNotFound
		}
		if err != nil {
			return err
		}
		var q quoteDoc
		if err := snap.DataTo(&q); err != nil {
			return err
		}

		for _, marker := range markers {
			existing, err := r.markedEvent(tx, quoteRef, marker, event.QuoteID)
			if err != nil {
				return err
			}
			if existing != nil {
				return &domain.DuplicateEventError{Existing: *existing}
			}
		}

		storedAt = event.At
		if storedAt.Before(q.LastEventAt) {
			storedAt = q.LastEventAt
		}

		if err := tx.Create(eventRef, eventDoc{
			Kind:           string(event.Kind),
			Metadata:       string(encoded),
			IdempotencyKey: event.IdempotencyKey,
			At:             storedAt,
			Seq:            q.EventCount + 1,
		}); err != nil {
			return err
		}
		for _, marker := range markers {
			if err := tx.Create(marker, keyDoc{EventID: event.ID.String()}); err != nil {
				return err
			}
		}
		return tx.Update(quoteRef, []gcfirestore.Update{
			{Path: "eventCount", Value: q.EventCount + 1},
			{Path: "lastEventAt", Value: storedAt},
		})
	})
	if err != nil {
		return err
	}

	event.Meta = meta
	event.At = storedAt.UTC()
	return nil
}

// markedEvent returns the event a uniqueness marker points at, or nil when
// the marker does not exist.
func (r *eventRepository) markedEvent(tx *gcfirestore.Transaction, quoteRef, marker *gcfirestore.DocumentRef, quoteID uuid.UUID) (*domain.Event, error) {
	snap, err := tx.Get(marker)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var k keyDoc
	if err := snap.DataTo(&k); err != nil {
		return nil, err
	}

	evSnap, err := tx.Get(quoteRef.Collection(eventsCollection).Doc(k.EventID))
	if err != nil {
		return nil, fmt.Errorf("load event %s behind marker %s: %w", k.EventID, marker.ID, err)
	}
	var d eventDoc
	if err := evSnap.DataTo(&d); err != nil {
		return nil, err
	}
	ev, err := d.toDomain(evSnap.Ref.ID, quoteID)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *eventRepository) ListEvents(ctx context.Context, quoteID uuid.UUID) ([]domain.Event, error) {
	snaps, err := r.client.Collection(quotesCollection).Doc(quoteID.String()).
		Collection(eventsCollection).
		OrderBy("at", gcfirestore.Asc).
		OrderBy("seq", gcfirestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(snaps))
	for _, snap := range snaps {
		var d eventDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", snap.Ref.ID, err)
		}
		ev, err := d.toDomain(snap.Ref.ID, quoteID)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Watch streams the quote's events from a snapshot listener. The first
// snapshot holds the events already recorded.
func (r *eventRepository) Watch(ctx context.Context, quoteID uuid.UUID, fn func(domain.Event)) error {
	it := r.client.Collection(quotesCollection).Doc(quoteID.String()).
		Collection(eventsCollection).
		OrderBy("at", gcfirestore.Asc).
		OrderBy("seq", gcfirestore.Asc).
		Snapshots(ctx)
	defer it.Stop()

	feed := repository.NewEventFeed(fn)
	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}

		var added []domain.Event
		for _, change := range snap.Changes {
			if change.Kind != gcfirestore.DocumentAdded {
				continue
			}
			var d eventDoc
			if err := change.Doc.DataTo(&d); err != nil {
				return fmt.Errorf("decode event %s: %w", change.Doc.Ref.ID, err)
			}
			ev, err := d.toDomain(change.Doc.Ref.ID, quoteID)
			if err != nil {
				return err
			}
			added = append(added, ev)
		}
		feed.Deliver(added)
	}
}
