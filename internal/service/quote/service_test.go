package quote_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quote-tracker/internal/config"
	"quote-tracker/internal/domain"
	"quote-tracker/internal/lifecycle"
	"quote-tracker/internal/mocks"
	"quote-tracker/internal/repository"
	"quote-tracker/internal/repository/memory"
	"quote-tracker/internal/service/auth"
	"quote-tracker/internal/service/quote"
	"quote-tracker/internal/storage"
)

type fixture struct {
	cfg      *config.Config
	store    *memory.Store
	objects  *storage.MemoryStore
	email    *mocks.EmailService
	notifier *mocks.Notifier
	recorder *lifecycle.Recorder
	svc      quote.Service
	actor    *domain.User
	links    []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newCachedFixture(t, nil, nil)
}

// newCachedFixture backs the summary cache with client and, when wrap is
// set, routes log access through the repository it returns.
func newCachedFixture(t *testing.T, client *redis.Client, wrap func(repository.EventRepository) repository.EventRepository) *fixture {
	t.Helper()

	cfg := &config.Config{
		JWTSecret:       "test-secret",
		JWTAccessExpiry: time.Minute,
		QuoteLinkExpiry: 24 * time.Hour,
		PublicAppURL:    "https://app.example.com",
		CompanyName:     "Clearview Windows",
		TaxRate:         0.0825,
		ReplayWindow:    2 * time.Minute,
		MaxPDFPages:     3,
	}
	store := memory.New()
	f := &fixture{
		cfg:      cfg,
		store:    store,
		objects:  storage.NewMemoryStore(),
		email:    new(mocks.EmailService),
		notifier: new(mocks.Notifier),
		actor:    &domain.User{ID: uuid.New(), Email: "rep@example.com", FullName: "Sam Rep", Role: "sales", IsActive: true},
	}
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return().Maybe()
	events := store.Events()
	if wrap != nil {
		events = wrap(events)
	}

	f.recorder = lifecycle.NewRecorder(store.Quotes(), events, zerolog.Nop(), lifecycle.RecorderConfig{
		ReplayWindow: cfg.ReplayWindow,
	})
	f.recorder.SetNotifier(f.notifier)
	cache := quote.NewSummaryCache(client)
	f.recorder.SetObserver(cache)

	authSvc := auth.NewService(store.Users(), store.Sessions(), cfg)
	f.svc = quote.NewService(store.Quotes(), events, f.recorder, authSvc, f.email, f.objects, cache, cfg, zerolog.Nop())
	return f
}

// emailOK makes SendQuoteEmail succeed and remembers every link.
func (f *fixture) emailOK() {
	f.email.On("SendQuoteEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { f.links = append(f.links, args.String(4)) }).
		Return(nil)
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.links)
	link := f.links[len(f.links)-1]
	prefix := f.cfg.PublicAppURL + "/q/"
	require.True(t, strings.HasPrefix(link, prefix), link)
	return strings.TrimPrefix(link, prefix)
}

func (f *fixture) create(t *testing.T) *domain.Quote {
	t.Helper()
	q, err := f.svc.Create(context.Background(), f.actor, domain.CreateQuoteInput{
		ClientName:  "Dana Whitfield",
		ClientEmail: "dana@example.com",
		Items: []domain.LineItem{
			{Type: "window", Style: "double-hung", WidthIn: 36, HeightIn: 60, Quantity: 4, UnitPriceCents: 42500},
			{Type: "door", Style: "patio slider", WidthIn: 72, HeightIn: 80, Quantity: 1, UnitPriceCents: 189900},
		},
	})
	require.NoError(t, err)
	return q
}

func (f *fixture) sent(t *testing.T) (*domain.Quote, string) {
	t.Helper()
	f.emailOK()
	q := f.create(t)
	_, err := f.svc.Send(context.Background(), q.ID, f.actor, "")
	require.NoError(t, err)
	return q, f.token(t)
}

func (f *fixture) notifications(kind domain.EventKind) int {
	n := 0
	for _, call := range f.notifier.Calls {
		if call.Method == "Notify" && call.Arguments.Get(1).(domain.Notice).Kind == kind {
			n++
		}
	}
	return n
}

func signatureData() string {
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x42}, 64)...)
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// minimalPDF builds a well-formed PDF with the given number of blank pages.
func minimalPDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestQuoteService_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.create(t)

	assert.Equal(t, "Q-001000", q.Number)
	assert.Equal(t, domain.StatusDraft, q.Status)
	assert.Equal(t, int64(4*42500+189900), q.SubtotalCents)
	assert.Equal(t, int64(29692), q.TaxCents)
	assert.Equal(t, q.SubtotalCents+q.TaxCents, q.TotalCents)
	assert.Equal(t, f.actor.ID, q.CreatedBy)

	events, err := f.svc.Events(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCreated, events[0].Kind)
	assert.Equal(t, domain.CreatedMeta{ActorEmail: "rep@example.com"}, events[0].Meta)

	t.Run("Validation", func(t *testing.T) {
		_, err := f.svc.Create(ctx, f.actor, domain.CreateQuoteInput{ClientName: " "})
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = f.svc.Create(ctx, f.actor, domain.CreateQuoteInput{
			ClientName: "X",
			Items:      []domain.LineItem{{Type: "window", Quantity: 0}},
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestQuoteService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.create(t)

	items := []domain.LineItem{{Type: "window", Quantity: 1, UnitPriceCents: 10000}}
	notes := "measure again on site"
	updated, err := f.svc.Update(ctx, q.ID, domain.UpdateQuoteInput{
		Items: &items,
		Notes: domain.NullableString{Value: &notes, Set: true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), updated.SubtotalCents)
	assert.Equal(t, int64(825), updated.TaxCents)
	assert.Equal(t, int64(10825), updated.TotalCents)
	require.NotNil(t, updated.Notes)
	assert.Equal(t, notes, *updated.Notes)

	t.Run("Locked once declined", func(t *testing.T) {
		_, err := f.recorder.RequestTransition(ctx, q.ID, domain.EventDeclined, nil)
		require.NoError(t, err)

		name := "Someone Else"
		_, err = f.svc.Update(ctx, q.ID, domain.UpdateQuoteInput{ClientName: &name})
		assert.ErrorIs(t, err, domain.ErrQuoteLocked)
	})

	t.Run("Trashed", func(t *testing.T) {
		other := f.create(t)
		require.NoError(t, f.svc.Trash(ctx, other.ID))
		_, err := f.svc.Update(ctx, other.ID, domain.UpdateQuoteInput{})
		assert.ErrorIs(t, err, domain.ErrQuoteTrashed)
	})
}

func TestQuoteService_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		q, _ := f.sent(t)

		got, err := f.svc.Get(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSent, got.Status)

		events, err := f.svc.Events(ctx, q.ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, domain.SentMeta{Recipient: "dana@example.com", ActorEmail: "rep@example.com"}, events[1].Meta)
		f.email.AssertNumberOfCalls(t, "SendQuoteEmail", 1)
	})

	t.Run("Email failure records send_failed", func(t *testing.T) {
		f := newFixture(t)
		f.email.On("SendQuoteEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("mailbox unavailable"))
		q := f.create(t)

		_, err := f.svc.Send(ctx, q.ID, f.actor, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mailbox unavailable")

		got, err := f.svc.Get(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDraft, got.Status)

		summary, err := f.svc.StatusSummary(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.SendFailures)
		assert.Nil(t, summary.SentAt)
	})

	t.Run("Missing client email", func(t *testing.T) {
		f := newFixture(t)
		q, err := f.svc.Create(ctx, f.actor, domain.CreateQuoteInput{ClientName: "Walk-in"})
		require.NoError(t, err)

		_, err = f.svc.Send(ctx, q.ID, f.actor, "")
		assert.ErrorIs(t, err, domain.ErrMissingClientEmail)
		f.email.AssertNumberOfCalls(t, "SendQuoteEmail", 0)
	})

	t.Run("Trashed", func(t *testing.T) {
		f := newFixture(t)
		q := f.create(t)
		require.NoError(t, f.svc.Trash(ctx, q.ID))

		_, err := f.svc.Send(ctx, q.ID, f.actor, "")
		var denied *domain.TransitionDeniedError
		assert.ErrorAs(t, err, &denied)
		f.email.AssertNumberOfCalls(t, "SendQuoteEmail", 0)
	})
}

func TestQuoteService_ClientFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, token := f.sent(t)

	view, err := f.svc.View(ctx, token, quote.Viewer{IP: "203.0.113.9", UserAgent: "Safari", Locale: "es"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusViewed, view.Status)
	assert.Equal(t, "Vista", view.Display.Label)
	assert.Equal(t, "Clearview Windows", view.CompanyName)
	assert.True(t, view.CanRespond)

	_, err = f.svc.View(ctx, token, quote.Viewer{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifications(domain.EventOpened))

	res, err := f.svc.Sign(ctx, token, domain.SignQuoteInput{SignerName: "Dana Whitfield", SignatureData: signatureData()}, "sign-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSigned, res.Status)
	assert.False(t, res.Replayed)
	assert.Equal(t, 1, f.notifications(domain.EventSigned))

	events, err := f.svc.Events(ctx, q.ID)
	require.NoError(t, err)
	signed := events[len(events)-1].Meta.(domain.SignedMeta)
	require.NotEmpty(t, signed.SignatureRef)
	obj, ok := f.objects.Get(signed.SignatureRef)
	require.True(t, ok)
	assert.Equal(t, "image/png", obj.ContentType)

	summary, err := f.svc.StatusSummary(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.OpensCount)
	assert.NotNil(t, summary.SignedAt)

	t.Run("Retried sign replays", func(t *testing.T) {
		again, err := f.svc.Sign(ctx, token, domain.SignQuoteInput{SignerName: "Dana Whitfield", SignatureData: signatureData()}, "sign-1")
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.Equal(t, res.EventID, again.EventID)
		assert.Equal(t, 1, f.notifications(domain.EventSigned))
	})

	t.Run("Decline after sign is denied", func(t *testing.T) {
		_, err := f.svc.Decline(ctx, token, domain.DeclineQuoteInput{Reason: "changed my mind"}, "")
		var denied *domain.TransitionDeniedError
		require.ErrorAs(t, err, &denied)
		assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
		assert.Equal(t, "This quote was already signed and cannot be modified.", denied.UserMessage())
	})

	t.Run("Signed quote shows as final", func(t *testing.T) {
		view, err := f.svc.View(ctx, token, quote.Viewer{})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSigned, view.Status)
		assert.False(t, view.CanRespond)
	})
}

func TestQuoteService_Decline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, token := f.sent(t)

	res, err := f.svc.Decline(ctx, token, domain.DeclineQuoteInput{Reason: "over budget"}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, res.Status)

	got, err := f.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, got.Declined)
	assert.False(t, got.Signed)

	_, err = f.svc.Sign(ctx, token, domain.SignQuoteInput{SignerName: "Dana", SignatureData: signatureData()}, "")
	var denied *domain.TransitionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, domain.StatusDeclined, denied.Current)
}

func TestQuoteService_SignErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, token := f.sent(t)

	_, err := f.svc.Sign(ctx, token, domain.SignQuoteInput{SignerName: "Dana", SignatureData: "data:image/jpeg;base64,AAAA"}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = f.svc.Sign(ctx, token, domain.SignQuoteInput{SignerName: "Dana", SignatureData: base64.StdEncoding.EncodeToString([]byte("GIF89a"))}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = f.svc.Sign(ctx, token, domain.SignQuoteInput{SignatureData: signatureData()}, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Sign(ctx, "not-a-token", domain.SignQuoteInput{SignerName: "Dana", SignatureData: signatureData()}, "")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	require.NoError(t, f.svc.Trash(ctx, q.ID))
	_, err = f.svc.View(ctx, token, quote.Viewer{})
	assert.ErrorIs(t, err, domain.ErrQuoteNotFound)
}

func TestQuoteService_Transition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.create(t)

	res, err := f.svc.Transition(ctx, q.ID, domain.TransitionInput{Kind: "viewed"}, f.actor)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusViewed, res.Status)

	_, err = f.svc.Transition(ctx, q.ID, domain.TransitionInput{Kind: "created"}, f.actor)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Transition(ctx, q.ID, domain.TransitionInput{Kind: "archived"}, f.actor)
	assert.ErrorIs(t, err, domain.ErrInvalidEventKind)

	_, err = f.svc.Transition(ctx, q.ID, domain.TransitionInput{Kind: "declined", Metadata: []byte(`{"reason":`)}, f.actor)
	assert.ErrorIs(t, err, domain.ErrValidation)

	res, err = f.svc.Transition(ctx, q.ID, domain.TransitionInput{
		Kind:     "declined",
		Metadata: []byte(`{"reason":"chose another vendor"}`),
	}, f.actor)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, res.Status)

	events, err := f.svc.Events(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeclinedMeta{Reason: "chose another vendor", ActorEmail: "rep@example.com"}, events[len(events)-1].Meta)
}

func TestQuoteService_AttachPDF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.create(t)

	got, err := f.svc.AttachPDF(ctx, q.ID, minimalPDF(2))
	require.NoError(t, err)
	require.NotNil(t, got.PDFRef)
	first := *got.PDFRef
	_, ok := f.objects.Get(first)
	assert.True(t, ok)

	got, err = f.svc.AttachPDF(ctx, q.ID, minimalPDF(1))
	require.NoError(t, err)
	_, ok = f.objects.Get(first)
	assert.False(t, ok, "previous PDF is removed")

	_, err = f.svc.AttachPDF(ctx, q.ID, []byte("definitely not a pdf"))
	assert.ErrorIs(t, err, domain.ErrInvalidPDF)

	_, err = f.svc.AttachPDF(ctx, q.ID, minimalPDF(4))
	assert.ErrorIs(t, err, domain.ErrInvalidPDF)

	stored, err := f.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, *got.PDFRef, *stored.PDFRef)
}

func TestQuoteService_TrashRestoreDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, token := f.sent(t)

	_, err := f.svc.AttachPDF(ctx, q.ID, minimalPDF(1))
	require.NoError(t, err)
	_, err = f.svc.Sign(ctx, token, domain.SignQuoteInput{SignerName: "Dana", SignatureData: signatureData()}, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Trash(ctx, q.ID))
	page, err := f.svc.List(ctx, domain.QuoteFilter{}, domain.DefaultPagination())
	require.NoError(t, err)
	assert.Empty(t, page.Data)

	page, err = f.svc.List(ctx, domain.QuoteFilter{TrashedOnly: true}, domain.DefaultPagination())
	require.NoError(t, err)
	require.Len(t, page.Data, 1)

	require.NoError(t, f.svc.Restore(ctx, q.ID))
	got, err := f.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.False(t, got.IsTrashed())
	assert.Equal(t, domain.StatusSigned, got.Status)

	events, err := f.svc.Events(ctx, q.ID)
	require.NoError(t, err)
	sigRef := events[len(events)-1].Meta.(domain.SignedMeta).SignatureRef

	require.NoError(t, f.svc.Delete(ctx, q.ID))
	_, err = f.svc.Get(ctx, q.ID)
	assert.ErrorIs(t, err, domain.ErrQuoteNotFound)
	_, ok := f.objects.Get(sigRef)
	assert.False(t, ok)
	_, ok = f.objects.Get(*got.PDFRef)
	assert.False(t, ok)
}

func TestQuoteService_ReconcileAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clean := f.create(t)
	drifted, _ := f.sent(t)

	// Simulate a lost projection: the log says sent, the record says draft.
	q, err := f.store.Quotes().Get(ctx, drifted.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.Quotes().UpdateStatusFields(ctx, q.ID, q.Version(), domain.NewStatusFields()))

	results, err := f.svc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[uuid.UUID]lifecycle.Reconciliation{}
	for _, r := range results {
		byID[r.QuoteID] = r
	}
	assert.False(t, byID[clean.ID].Changed)
	assert.True(t, byID[drifted.ID].Changed)
	assert.Equal(t, domain.StatusDraft, byID[drifted.ID].Previous)
	assert.Equal(t, domain.StatusSent, byID[drifted.ID].Status)

	got, err := f.svc.Get(ctx, drifted.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
}

func TestQuoteService_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := f.svc.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Events(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.StatusSummary(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Reconcile(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
