package quote

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"quote-tracker/internal/config"
	"quote-tracker/internal/domain"
	"quote-tracker/internal/lifecycle"
	"quote-tracker/internal/repository"
	"quote-tracker/internal/service/auth"
	"quote-tracker/internal/service/email"
	"quote-tracker/internal/storage"
)

const (
	maxSignatureBytes   = 512 << 10
	reconcileConcurrent = 4
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

type Service interface {
	Create(ctx context.Context, actor *domain.User, input domain.CreateQuoteInput) (*domain.Quote, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Quote, error)
	List(ctx context.Context, filter domain.QuoteFilter, params domain.PaginationParams) (domain.PaginatedResponse[domain.Quote], error)
	Update(ctx context.Context, id uuid.UUID, input domain.UpdateQuoteInput) (*domain.Quote, error)
	Send(ctx context.Context, id uuid.UUID, actor *domain.User, idempotencyKey string) (*lifecycle.Result, error)
	Trash(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	AttachPDF(ctx context.Context, id uuid.UUID, data []byte) (*domain.Quote, error)

	View(ctx context.Context, token string, viewer Viewer) (*PublicQuote, error)
	Sign(ctx context.Context, token string, input domain.SignQuoteInput, idempotencyKey string) (*lifecycle.Result, error)
	Decline(ctx context.Context, token string, input domain.DeclineQuoteInput, idempotencyKey string) (*lifecycle.Result, error)

	Transition(ctx context.Context, id uuid.UUID, input domain.TransitionInput, actor *domain.User) (*lifecycle.Result, error)
	Events(ctx context.Context, id uuid.UUID) ([]domain.Event, error)
	StatusSummary(ctx context.Context, id uuid.UUID) (*domain.StatusSummary, error)
	Reconcile(ctx context.Context, id uuid.UUID) (*lifecycle.Reconciliation, error)
	ReconcileAll(ctx context.Context) ([]lifecycle.Reconciliation, error)
}

// Viewer describes the client opening a quote link.
type Viewer struct {
	IP        string
	UserAgent string
	Locale    string
}

// PublicQuote is what the client sees behind the quote link.
type PublicQuote struct {
	ID            uuid.UUID         `json:"id"`
	Number        string            `json:"number"`
	CompanyName   string            `json:"company_name"`
	ClientName    string            `json:"client_name"`
	Items         domain.LineItems  `json:"items"`
	SubtotalCents int64             `json:"subtotal_cents"`
	TaxRate       float64           `json:"tax_rate"`
	TaxCents      int64             `json:"tax_cents"`
	TotalCents    int64             `json:"total_cents"`
	Notes         *string           `json:"notes,omitempty"`
	PDFURL        *string           `json:"pdf_url,omitempty"`
	Status        domain.Status     `json:"status"`
	Display       lifecycle.Display `json:"display"`
	CanRespond    bool              `json:"can_respond"`
}

type service struct {
	quotes   repository.QuoteRepository
	events   repository.EventRepository
	recorder *lifecycle.Recorder
	authSvc  auth.Service
	emailSvc email.Service
	objects  storage.ObjectStore
	cache    *SummaryCache
	cfg      *config.Config
	log      zerolog.Logger
}

func NewService(
	quotes repository.QuoteRepository,
	events repository.EventRepository,
	recorder *lifecycle.Recorder,
	authSvc auth.Service,
	emailSvc email.Service,
	objects storage.ObjectStore,
	cache *SummaryCache,
	cfg *config.Config,
	log zerolog.Logger,
) Service {
	return &service{
		quotes:   quotes,
		events:   events,
		recorder: recorder,
		authSvc:  authSvc,
		emailSvc: emailSvc,
		objects:  objects,
		cache:    cache,
		cfg:      cfg,
		log:      log.With().Str("component", "quotes").Logger(),
	}
}

func (s *service) Create(ctx context.Context, actor *domain.User, input domain.CreateQuoteInput) (*domain.Quote, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	number, err := s.quotes.NextNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate quote number: %w", err)
	}

	subtotal, tax, total := domain.ComputeTotals(input.Items, s.cfg.TaxRate)
	fields := domain.NewStatusFields()
	quote := &domain.Quote{
		ID:            uuid.New(),
		Number:        number,
		ClientName:    strings.TrimSpace(input.ClientName),
		ClientEmail:   strings.TrimSpace(input.ClientEmail),
		ClientPhone:   input.ClientPhone,
		ClientAddress: input.ClientAddress,
		Items:         append(domain.LineItems{}, input.Items...),
		SubtotalCents: subtotal,
		TaxRate:       s.cfg.TaxRate,
		TaxCents:      tax,
		TotalCents:    total,
		Notes:         input.Notes,
		CreatedBy:     actor.ID,
	}
	quote.SetStatusFields(fields)

	if err := s.quotes.Create(ctx, quote); err != nil {
		return nil, fmt.Errorf("failed to create quote: %w", err)
	}

	if _, err := s.recorder.Record(ctx, lifecycle.RecordInput{
		QuoteID:        quote.ID,
		Kind:           domain.EventCreated,
		Meta:           domain.CreatedMeta{ActorEmail: actor.Email},
		IdempotencyKey: "created:" + quote.ID.String(),
	}); err != nil {
		s.log.Warn().Err(err).Str("quote_id", quote.ID.String()).Msg("failed to record created event")
	}

	return s.quotes.Get(ctx, quote.ID)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*domain.Quote, error) {
	return s.quotes.Get(ctx, id)
}

func (s *service) List(ctx context.Context, filter domain.QuoteFilter, params domain.PaginationParams) (domain.PaginatedResponse[domain.Quote], error) {
	params.Validate()

	quotes, total, err := s.quotes.List(ctx, filter, params)
	if err != nil {
		return domain.PaginatedResponse[domain.Quote]{}, err
	}
	return domain.NewPaginatedResponse(quotes, params.Page, params.PageSize, total), nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input domain.UpdateQuoteInput) (*domain.Quote, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	quote, err := s.quotes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if quote.IsTrashed() {
		return nil, domain.ErrQuoteTrashed
	}
	if quote.Signed || quote.Declined {
		return nil, domain.ErrQuoteLocked
	}

	if input.ClientName != nil {
		quote.ClientName = strings.TrimSpace(*input.ClientName)
	}
	if input.ClientEmail != nil {
		quote.ClientEmail = strings.TrimSpace(*input.ClientEmail)
	}
	if input.ClientPhone.Set {
		quote.ClientPhone = input.ClientPhone.Value
	}
	if input.ClientAddress.Set {
		quote.ClientAddress = input.ClientAddress.Value
	}
	if input.Notes.Set {
		quote.Notes = input.Notes.Value
	}
	if input.Items != nil {
		quote.Items = append(domain.LineItems{}, (*input.Items)...)
	}
	quote.SubtotalCents, quote.TaxCents, quote.TotalCents = domain.ComputeTotals(quote.Items, quote.TaxRate)

	if err := s.quotes.Update(ctx, quote); err != nil {
		return nil, err
	}
	return quote, nil
}

// Send emails the client a quote link and records sent. When the email
// cannot be delivered a send_failed event is recorded instead and the
// delivery error is returned.
func (s *service) Send(ctx context.Context, id uuid.UUID, actor *domain.User, idempotencyKey string) (*lifecycle.Result, error) {
	quote, err := s.quotes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if quote.IsTrashed() {
		return nil, trashedDenial(quote, domain.EventSent)
	}
	if quote.ClientEmail == "" {
		return nil, domain.ErrMissingClientEmail
	}
	if _, err := lifecycle.CanTransition(quote.Status, domain.EventSent); err != nil {
		return nil, err
	}

	token, expiresAt, err := s.authSvc.IssueQuoteLink(quote.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue quote link: %w", err)
	}
	link := fmt.Sprintf("%s/q/%s", s.cfg.PublicAppURL, token)

	if sendErr := s.emailSvc.SendQuoteEmail(ctx, quote.ClientEmail, quote.ClientName, quote, link, expiresAt); sendErr != nil {
		_, err := s.recorder.Record(ctx, lifecycle.RecordInput{
			QuoteID: quote.ID,
			Kind:    domain.EventSendFailed,
			Meta:    domain.SendFailedMeta{Recipient: quote.ClientEmail, Error: sendErr.Error()},
		})
		if err != nil {
			s.log.Warn().Err(err).Str("quote_id", quote.ID.String()).Msg("failed to record send_failed event")
		}
		return nil, fmt.Errorf("failed to email quote %s: %w", quote.Number, sendErr)
	}

	return s.recorder.Record(ctx, lifecycle.RecordInput{
		QuoteID:        quote.ID,
		Kind:           domain.EventSent,
		Meta:           domain.SentMeta{Recipient: quote.ClientEmail, ActorEmail: actor.Email},
		IdempotencyKey: idempotencyKey,
	})
}

func (s *service) Trash(ctx context.Context, id uuid.UUID) error {
	return s.quotes.Trash(ctx, id)
}

func (s *service) Restore(ctx context.Context, id uuid.UUID) error {
	return s.quotes.Restore(ctx, id)
}

// Delete removes the quote, its log and its stored documents.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	quote, err := s.quotes.Get(ctx, id)
	if err != nil {
		return err
	}
	events, err := s.events.ListEvents(ctx, id)
	if err != nil {
		return err
	}

	var keys []string
	if quote.PDFRef != nil {
		keys = append(keys, *quote.PDFRef)
	}
	for _, ev := range events {
		if m, ok := ev.Meta.(domain.SignedMeta); ok && m.SignatureRef != "" {
			keys = append(keys, m.SignatureRef)
		}
	}

	if err := s.quotes.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, id)

	for _, key := range keys {
		if err := s.objects.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			s.log.Warn().Err(err).Str("quote_id", id.String()).Str("key", key).Msg("failed to delete stored object")
		}
	}
	return nil
}

// AttachPDF validates and stores the rendered quote document.
func (s *service) AttachPDF(ctx context.Context, id uuid.UUID, data []byte) (*domain.Quote, error) {
	quote, err := s.quotes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if quote.IsTrashed() {
		return nil, domain.ErrQuoteTrashed
	}
	if quote.Signed || quote.Declined {
		return nil, domain.ErrQuoteLocked
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPDF, err)
	}
	if pages < 1 || (s.cfg.MaxPDFPages > 0 && pages > s.cfg.MaxPDFPages) {
		return nil, fmt.Errorf("%w: %d pages", domain.ErrInvalidPDF, pages)
	}

	key := fmt.Sprintf("quotes/%s/%s.pdf", quote.ID, uuid.New())
	if err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		return nil, fmt.Errorf("failed to store quote PDF: %w", err)
	}
	if err := s.quotes.SetPDFRef(ctx, quote.ID, &key); err != nil {
		_ = s.objects.Delete(ctx, key)
		return nil, err
	}

	if quote.PDFRef != nil {
		if err := s.objects.Delete(ctx, *quote.PDFRef); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			s.log.Warn().Err(err).Str("key", *quote.PDFRef).Msg("failed to delete previous quote PDF")
		}
	}

	s.log.Info().Str("quote_id", quote.ID.String()).Int("pages", pages).Msg("attached quote PDF")
	quote.PDFRef = &key
	return quote, nil
}

// View resolves a client link and records that the quote was opened.
// Recording failures are logged; the client still gets the quote.
func (s *service) View(ctx context.Context, token string, viewer Viewer) (*PublicQuote, error) {
	quote, err := s.quoteForLink(ctx, token)
	if err != nil {
		return nil, err
	}

	if res, err := s.recorder.Record(ctx, lifecycle.RecordInput{
		QuoteID: quote.ID,
		Kind:    domain.EventOpened,
		Meta:    domain.OpenedMeta{ViewerIP: viewer.IP, UserAgent: viewer.UserAgent},
	}); err != nil {
		s.log.Warn().Err(err).Str("quote_id", quote.ID.String()).Msg("failed to record quote view")
	} else {
		quote.Status = res.Status
	}

	out := &PublicQuote{
		ID:            quote.ID,
		Number:        quote.Number,
		CompanyName:   s.cfg.CompanyName,
		ClientName:    quote.ClientName,
		Items:         quote.Items,
		SubtotalCents: quote.SubtotalCents,
		TaxRate:       quote.TaxRate,
		TaxCents:      quote.TaxCents,
		TotalCents:    quote.TotalCents,
		Notes:         quote.Notes,
		Status:        quote.Status,
		Display:       lifecycle.ToLocalizedDisplay(quote.Status, viewer.Locale),
		CanRespond:    !quote.Status.IsTerminal(),
	}
	if quote.PDFRef != nil {
		u := s.objects.URL(*quote.PDFRef)
		out.PDFURL = &u
	}
	return out, nil
}

func (s *service) Sign(ctx context.Context, token string, input domain.SignQuoteInput, idempotencyKey string) (*lifecycle.Result, error) {
	if strings.TrimSpace(input.SignerName) == "" {
		return nil, fmt.Errorf("%w: signer_name is required", domain.ErrValidation)
	}

	quote, err := s.quoteForLink(ctx, token)
	if err != nil {
		return nil, err
	}
	dec, err := lifecycle.CanTransition(quote.Status, domain.EventSigned)
	if err != nil {
		return nil, err
	}

	meta := domain.SignedMeta{
		SignerName:  strings.TrimSpace(input.SignerName),
		SignerEmail: strings.TrimSpace(input.SignerEmail),
	}
	if dec.Replay {
		// Already signed: let the recorder decide between replay and denial
		// without storing another signature image.
		return s.recorder.Record(ctx, lifecycle.RecordInput{
			QuoteID:        quote.ID,
			Kind:           domain.EventSigned,
			Meta:           meta,
			IdempotencyKey: idempotencyKey,
		})
	}

	img, err := decodeSignature(input.SignatureData)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("signatures/%s/%s.png", quote.ID, uuid.New())
	if err := s.objects.Put(ctx, key, bytes.NewReader(img), int64(len(img)), "image/png"); err != nil {
		return nil, fmt.Errorf("failed to store signature: %w", err)
	}
	meta.SignatureRef = key

	res, err := s.recorder.Record(ctx, lifecycle.RecordInput{
		QuoteID:        quote.ID,
		Kind:           domain.EventSigned,
		Meta:           meta,
		IdempotencyKey: idempotencyKey,
	})
	// The stored image is only referenced when this request's event was
	// appended. On a storage failure the event may exist, so keep it.
	if (err != nil && !errors.Is(err, domain.ErrStoreUnavailable)) || (res != nil && res.Replayed) {
		if delErr := s.objects.Delete(ctx, key); delErr != nil {
			s.log.Warn().Err(delErr).Str("key", key).Msg("failed to delete unused signature")
		}
	}
	return res, err
}

func (s *service) Decline(ctx context.Context, token string, input domain.DeclineQuoteInput, idempotencyKey string) (*lifecycle.Result, error) {
	quote, err := s.quoteForLink(ctx, token)
	if err != nil {
		return nil, err
	}

	return s.recorder.Record(ctx, lifecycle.RecordInput{
		QuoteID: quote.ID,
		Kind:    domain.EventDeclined,
		Meta: domain.DeclinedMeta{
			Reason:     strings.TrimSpace(input.Reason),
			ActorEmail: strings.TrimSpace(input.ActorEmail),
		},
		IdempotencyKey: idempotencyKey,
	})
}

// Transition records an event requested by staff, e.g. a quote signed on
// paper. Quote creation is recorded by Create only.
func (s *service) Transition(ctx context.Context, id uuid.UUID, input domain.TransitionInput, actor *domain.User) (*lifecycle.Result, error) {
	kind, err := domain.ParseEventKind(input.Kind)
	if err != nil {
		return nil, err
	}
	if kind == domain.EventCreated {
		return nil, fmt.Errorf("%w: created events are recorded when the quote is created", domain.ErrValidation)
	}

	meta, err := domain.DecodeEventMeta(kind, input.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", domain.ErrValidation, err)
	}
	meta = withActor(meta, actor)

	return s.recorder.Record(ctx, lifecycle.RecordInput{
		QuoteID:        id,
		Kind:           kind,
		Meta:           meta,
		IdempotencyKey: input.IdempotencyKey,
	})
}

func (s *service) Events(ctx context.Context, id uuid.UUID) ([]domain.Event, error) {
	if _, err := s.quotes.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.events.ListEvents(ctx, id)
}

func (s *service) StatusSummary(ctx context.Context, id uuid.UUID) (*domain.StatusSummary, error) {
	if summary, ok := s.cache.Get(ctx, id); ok {
		return summary, nil
	}

	gen, cacheable := s.cache.Generation(ctx, id)
	summary, err := s.recorder.StatusSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.cache.Set(ctx, summary, gen)
	}
	return summary, nil
}

func (s *service) Reconcile(ctx context.Context, id uuid.UUID) (*lifecycle.Reconciliation, error) {
	return s.recorder.Reconcile(ctx, id)
}

// ReconcileAll repairs every quote. It stops at the first failure.
func (s *service) ReconcileAll(ctx context.Context) ([]lifecycle.Reconciliation, error) {
	ids, err := s.quotes.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]lifecycle.Reconciliation, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrent)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := s.recorder.Reconcile(gctx, id)
			if errors.Is(err, domain.ErrQuoteNotFound) {
				results[i] = lifecycle.Reconciliation{QuoteID: id}
				return nil
			}
			if err != nil {
				return fmt.Errorf("reconcile quote %s: %w", id, err)
			}
			results[i] = *rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// quoteForLink resolves a client token. Trashed quotes look missing to
// clients.
func (s *service) quoteForLink(ctx context.Context, token string) (*domain.Quote, error) {
	id, err := s.authSvc.ParseQuoteLink(token)
	if err != nil {
		return nil, err
	}
	quote, err := s.quotes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if quote.IsTrashed() {
		return nil, domain.ErrQuoteNotFound
	}
	return quote, nil
}

func trashedDenial(quote *domain.Quote, kind domain.EventKind) error {
	return &domain.TransitionDeniedError{
		Current:   quote.Status,
		Requested: kind,
		Reason:    "quote is in the trash",
	}
}

func withActor(meta domain.EventMeta, actor *domain.User) domain.EventMeta {
	if actor == nil {
		return meta
	}
	switch m := meta.(type) {
	case domain.SentMeta:
		if m.ActorEmail == "" {
			m.ActorEmail = actor.Email
		}
		return m
	case domain.DeclinedMeta:
		if m.ActorEmail == "" {
			m.ActorEmail = actor.Email
		}
		return m
	}
	return meta
}

// decodeSignature accepts a base64 PNG, optionally as a data URL.
func decodeSignature(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, fmt.Errorf("%w: signature_data is required", domain.ErrInvalidSignature)
	}
	if strings.HasPrefix(data, "data:") {
		header, payload, ok := strings.Cut(data, ",")
		if !ok || !strings.HasPrefix(header, "data:image/png;base64") {
			return nil, fmt.Errorf("%w: expected a base64 PNG data URL", domain.ErrInvalidSignature)
		}
		data = payload
	}
	if base64.StdEncoding.DecodedLen(len(data)) > maxSignatureBytes {
		return nil, fmt.Errorf("%w: image too large", domain.ErrInvalidSignature)
	}

	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if !bytes.HasPrefix(img, pngMagic) {
		return nil, fmt.Errorf("%w: not a PNG image", domain.ErrInvalidSignature)
	}
	return img, nil
}
