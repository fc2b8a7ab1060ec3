package lifecycle_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/lifecycle"
)

var base = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func ev(quoteID uuid.UUID, kind domain.EventKind, offset time.Duration) domain.Event {
	return domain.Event{ID: uuid.New(), QuoteID: quoteID, Kind: kind, At: base.Add(offset)}
}

func TestDerive_EmptyLog(t *testing.T) {
	s := lifecycle.Derive(nil)

	assert.Equal(t, domain.StatusDraft, s.Status)
	assert.Zero(t, s.OpensCount)
	assert.Zero(t, s.SendFailures)
	assert.Nil(t, s.OpenedAt)
	assert.Nil(t, s.LastOpenedAt)
	assert.Nil(t, s.SentAt)
	assert.Nil(t, s.LastSentAt)
	assert.Nil(t, s.LastFailureAt)
	assert.Nil(t, s.SignedAt)
	assert.Nil(t, s.DeclinedAt)
}

func TestDerive_StatusPrecedence(t *testing.T) {
	q := uuid.New()

	tests := []struct {
		name  string
		kinds []domain.EventKind
		want  domain.Status
	}{
		{"created only", []domain.EventKind{domain.EventCreated}, domain.StatusDraft},
		{"send failure does not send", []domain.EventKind{domain.EventCreated, domain.EventSendFailed}, domain.StatusDraft},
		{"sent", []domain.EventKind{domain.EventCreated, domain.EventSent}, domain.StatusSent},
		{"opened without send", []domain.EventKind{domain.EventCreated, domain.EventOpened}, domain.StatusViewed},
		{"opened then resent", []domain.EventKind{domain.EventSent, domain.EventOpened, domain.EventSent}, domain.StatusViewed},
		{"declined", []domain.EventKind{domain.EventSent, domain.EventOpened, domain.EventDeclined}, domain.StatusDeclined},
		{"signed beats declined", []domain.EventKind{domain.EventDeclined, domain.EventSigned}, domain.StatusSigned},
		{"signed then opened", []domain.EventKind{domain.EventSent, domain.EventSigned, domain.EventOpened}, domain.StatusSigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []domain.Event
			for i, k := range tt.kinds {
				events = append(events, ev(q, k, time.Duration(i)*time.Minute))
			}
			assert.Equal(t, tt.want, lifecycle.Derive(events).Status)
		})
	}
}

func TestDerive_CountsAndTimestamps(t *testing.T) {
	q := uuid.New()
	events := []domain.Event{
		ev(q, domain.EventCreated, 0),
		ev(q, domain.EventSendFailed, 1*time.Minute),
		ev(q, domain.EventSent, 2*time.Minute),
		ev(q, domain.EventOpened, 3*time.Minute),
		ev(q, domain.EventSendFailed, 4*time.Minute),
		ev(q, domain.EventSent, 5*time.Minute),
		ev(q, domain.EventOpened, 6*time.Minute),
		ev(q, domain.EventOpened, 7*time.Minute),
	}

	s := lifecycle.Derive(events)

	assert.Equal(t, q, s.QuoteID)
	assert.Equal(t, domain.StatusViewed, s.Status)
	assert.Equal(t, 3, s.OpensCount)
	require.NotNil(t, s.OpenedAt)
	assert.Equal(t, base.Add(3*time.Minute), *s.OpenedAt)
	assert.Equal(t, base.Add(7*time.Minute), *s.LastOpenedAt)
	assert.Equal(t, base.Add(2*time.Minute), *s.SentAt)
	assert.Equal(t, base.Add(5*time.Minute), *s.LastSentAt)
	assert.Equal(t, 2, s.SendFailures)
	assert.Equal(t, base.Add(4*time.Minute), *s.LastFailureAt)
	assert.Nil(t, s.SignedAt)
}

func randomLog(r *rand.Rand, q uuid.UUID) []domain.Event {
	kinds := []domain.EventKind{
		domain.EventCreated, domain.EventSent, domain.EventSendFailed,
		domain.EventOpened, domain.EventSigned, domain.EventDeclined,
	}
	n := r.Intn(12)
	events := make([]domain.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, ev(q, kinds[r.Intn(len(kinds))], time.Duration(i)*time.Second))
	}
	return events
}

func TestDerive_Deterministic(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	q := uuid.New()

	for i := 0; i < 500; i++ {
		events := randomLog(r, q)
		first := lifecycle.Derive(events)
		second := lifecycle.Derive(events)
		assert.Equal(t, first, second)
	}
}

func TestApply_OrderIndependent(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	q := uuid.New()

	for i := 0; i < 300; i++ {
		events := randomLog(r, q)
		want := lifecycle.DeriveFields(events)

		shuffled := append([]domain.Event{}, events...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := lifecycle.DeriveFields(shuffled)

		assert.True(t, want.Equal(got), "fields differ for %v", kindsOf(events))
		assert.Equal(t, lifecycle.Derive(events).Status, got.Status)
	}
}

func TestApply_SignedClearsDeclined(t *testing.T) {
	q := uuid.New()
	fields := lifecycle.DeriveFields([]domain.Event{
		ev(q, domain.EventDeclined, time.Minute),
		ev(q, domain.EventSigned, 2*time.Minute),
	})

	assert.Equal(t, domain.StatusSigned, fields.Status)
	assert.True(t, fields.Signed)
	assert.False(t, fields.Declined)
	assert.NotContains(t, fields.StatusTimestamps, domain.StatusDeclined)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	q := uuid.New()
	in := domain.NewStatusFields()

	out := lifecycle.Apply(in, ev(q, domain.EventSent, 0))

	assert.Empty(t, in.StatusTimestamps)
	assert.Equal(t, domain.StatusDraft, in.Status)
	assert.Equal(t, domain.StatusSent, out.Status)
}

func kindsOf(events []domain.Event) []domain.EventKind {
	kinds := make([]domain.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}
