package notification_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/mocks"
	"quote-tracker/internal/repository/memory"
	"quote-tracker/internal/service/notification"
)

func signedNotice(createdBy uuid.UUID) domain.Notice {
	return domain.Notice{
		QuoteID:     uuid.New(),
		QuoteNumber: "Q-001042",
		ClientName:  "Dana Whitfield",
		ClientEmail: "dana@example.com",
		CreatedBy:   createdBy,
		EventID:     uuid.New(),
		Kind:        domain.EventSigned,
		Meta:        domain.SignedMeta{SignerName: "Dana Whitfield"},
		At:          time.Date(2025, 5, 2, 15, 4, 0, 0, time.UTC),
	}
}

func channel(name string, err error) *mocks.Channel {
	ch := new(mocks.Channel)
	ch.On("Name").Return(name).Maybe()
	ch.On("Send", mock.Anything, mock.Anything).Return(err)
	return ch
}

func TestDispatcher_FansOutToEveryChannel(t *testing.T) {
	email := channel("email", nil)
	inbox := channel("inbox", nil)
	d := notification.NewDispatcher(nil, time.Second, zerolog.Nop(), email, inbox)

	notice := signedNotice(uuid.New())
	d.Notify(context.Background(), notice)
	d.Wait()

	email.AssertCalled(t, "Send", mock.Anything, notice)
	inbox.AssertCalled(t, "Send", mock.Anything, notice)
}

func TestDispatcher_ChannelFailureDoesNotStopOthers(t *testing.T) {
	failing := channel("webhook", errors.New("connection refused"))
	inbox := channel("inbox", nil)
	d := notification.NewDispatcher(nil, time.Second, zerolog.Nop(), failing, inbox)

	d.Notify(context.Background(), signedNotice(uuid.New()))
	d.Wait()

	failing.AssertNumberOfCalls(t, "Send", 1)
	inbox.AssertNumberOfCalls(t, "Send", 1)
}

func TestDispatcher_ClaimSuppressesRepeats(t *testing.T) {
	inbox := channel("inbox", nil)
	d := notification.NewDispatcher(notification.NewMemoryClaimer(), time.Second, zerolog.Nop(), inbox)

	notice := signedNotice(uuid.New())
	for i := 0; i < 3; i++ {
		d.Notify(context.Background(), notice)
	}
	d.Wait()

	inbox.AssertNumberOfCalls(t, "Send", 1)
}

func TestDispatcher_NotifyDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	slow := new(mocks.Channel)
	slow.On("Name").Return("slow").Maybe()
	slow.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) { <-release }).Return(nil)

	d := notification.NewDispatcher(nil, time.Second, zerolog.Nop(), slow)

	done := make(chan struct{})
	go func() {
		d.Notify(context.Background(), signedNotice(uuid.New()))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow channel")
	}
	close(release)
	d.Wait()
}

func TestDispatcher_RecoversChannelPanic(t *testing.T) {
	bad := new(mocks.Channel)
	bad.On("Name").Return("bad").Maybe()
	bad.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") }).Return(nil)
	inbox := channel("inbox", nil)

	d := notification.NewDispatcher(nil, time.Second, zerolog.Nop(), bad, inbox)
	assert.NotPanics(t, func() {
		d.Notify(context.Background(), signedNotice(uuid.New()))
		d.Wait()
	})
	inbox.AssertNumberOfCalls(t, "Send", 1)
}

func TestMemoryClaimer(t *testing.T) {
	ctx := context.Background()
	c := notification.NewMemoryClaimer()
	notice := signedNotice(uuid.New())

	ok, err := c.Claim(ctx, notice)
	require.NoError(t, err)
	assert.True(t, ok)

	// A redelivered event with a new id is still the same notice.
	notice.EventID = uuid.New()
	ok, err = c.Claim(ctx, notice)
	require.NoError(t, err)
	assert.False(t, ok)

	notice.Kind = domain.EventOpened
	ok, _ = c.Claim(ctx, notice)
	assert.True(t, ok)
}

func TestInboxChannel(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	users := store.Users()

	creator := &domain.User{ID: uuid.New(), Email: "rep@example.com", FullName: "Sam Rep", Role: string(domain.RoleSales), IsActive: true}
	admin := &domain.User{ID: uuid.New(), Email: "boss@example.com", FullName: "Alex Admin", Role: string(domain.RoleAdmin), IsActive: true}
	inactive := &domain.User{ID: uuid.New(), Email: "gone@example.com", FullName: "Gone", Role: string(domain.RoleAdmin), IsActive: false}
	for _, u := range []*domain.User{creator, admin, inactive} {
		require.NoError(t, users.Create(ctx, u))
	}

	ch := notification.NewInboxChannel(store.Notifications(), users, "en")
	notice := signedNotice(creator.ID)
	require.NoError(t, ch.Send(ctx, notice))

	svc := notification.NewService(store.Notifications())
	for _, u := range []*domain.User{creator, admin} {
		page, err := svc.List(ctx, u.ID, true, domain.DefaultPagination())
		require.NoError(t, err)
		require.Len(t, page.Data, 1, u.Email)

		n := page.Data[0]
		assert.Equal(t, domain.NotifQuoteSigned, n.Type)
		assert.Equal(t, "Quote signed", n.Title)
		assert.Contains(t, n.Message, "Q-001042")
		require.NotNil(t, n.QuoteID)
		assert.Equal(t, notice.QuoteID, *n.QuoteID)
	}

	count, err := svc.GetUnreadCount(ctx, inactive.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInboxChannel_IgnoresKindsWithoutNotification(t *testing.T) {
	store := memory.New()
	ch := notification.NewInboxChannel(store.Notifications(), store.Users(), "en")

	notice := signedNotice(uuid.New())
	notice.Kind = domain.EventSent
	notice.Meta = domain.SentMeta{}
	assert.NoError(t, ch.Send(context.Background(), notice))
}

func TestService_MarkAsRead(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := notification.NewService(store.Notifications())
	userID := uuid.New()

	n := &domain.Notification{ID: uuid.New(), UserID: userID, Type: domain.NotifQuoteViewed, Title: "Quote viewed"}
	require.NoError(t, store.Notifications().Create(ctx, n))

	assert.ErrorIs(t, svc.MarkAsRead(ctx, n.ID, uuid.New()), domain.ErrNotificationNotFound)
	require.NoError(t, svc.MarkAsRead(ctx, n.ID, userID))

	count, err := svc.GetUnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWebhookChannel(t *testing.T) {
	var hits atomic.Int32
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := notification.NewWebhookChannel(srv.URL, time.Second)
	require.NoError(t, ch.Send(context.Background(), signedNotice(uuid.New())))
	assert.Equal(t, int32(1), hits.Load())
	assert.Contains(t, string(<-bodies), "signed quote Q-001042")
}

func TestWebhookChannel_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := notification.NewWebhookChannel(srv.URL, time.Second)
	err := ch.Send(context.Background(), signedNotice(uuid.New()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
