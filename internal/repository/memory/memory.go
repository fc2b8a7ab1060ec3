// Package memory holds in-process repositories for local development and
// tests. They honour the same contracts as the Postgres repositories:
// conditional status updates, one terminal event per quote, unique
// idempotency keys and non-decreasing event times.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/repository"
)

type Store struct {
	mu            sync.RWMutex
	quotes        map[uuid.UUID]domain.Quote
	events        map[uuid.UUID][]domain.Event
	users         map[uuid.UUID]domain.User
	sessions      map[uuid.UUID]repository.Session
	notifications []domain.Notification
	seq           int64
	now           func() time.Time
	watchers      map[uuid.UUID]map[chan struct{}]struct{}
}

func New() *Store {
	return &Store{
		quotes:   make(map[uuid.UUID]domain.Quote),
		events:   make(map[uuid.UUID][]domain.Event),
		users:    make(map[uuid.UUID]domain.User),
		sessions: make(map[uuid.UUID]repository.Session),
		seq:      999,
		now:      func() time.Time { return time.Now().UTC() },
		watchers: make(map[uuid.UUID]map[chan struct{}]struct{}),
	}
}

// SetClock replaces the clock used for created/updated timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		User:         s.Users(),
		Session:      s.Sessions(),
		Notification: s.Notifications(),
		Quote:        s.Quotes(),
		Event:        s.Events(),
		Watcher:      &eventRepository{s},
	}
}

func (s *Store) Quotes() repository.QuoteRepository               { return &quoteRepository{s} }
func (s *Store) Events() repository.EventRepository               { return &eventRepository{s} }
func (s *Store) Users() repository.UserRepository                 { return &userRepository{s} }
func (s *Store) Sessions() repository.SessionRepository           { return &sessionRepository{s} }
func (s *Store) Notifications() repository.NotificationRepository { return &notificationRepository{s} }

func cloneQuote(q domain.Quote) domain.Quote {
	out := q
	out.StatusTimestamps = q.StatusTimestamps.Clone()
	out.Items = append(domain.LineItems{}, q.Items...)
	return out
}

// --- quotes ---

type quoteRepository struct {
	s *Store
}

func (r *quoteRepository) Create(_ context.Context, quote *domain.Quote) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	quote.CreatedAt = now
	quote.UpdatedAt = now
	if quote.StatusTimestamps == nil {
		quote.StatusTimestamps = domain.StatusTimestamps{}
	}
	r.s.quotes[quote.ID] = cloneQuote(*quote)
	return nil
}

func (r *quoteRepository) Get(_ context.Context, id uuid.UUID) (*domain.Quote, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	q, ok := r.s.quotes[id]
	if !ok {
		return nil, domain.ErrQuoteNotFound
	}
	out := cloneQuote(q)
	return &out, nil
}

func (r *quoteRepository) List(_ context.Context, filter domain.QuoteFilter, params domain.PaginationParams) ([]domain.Quote, int64, error) {
	params.Validate()

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []domain.Quote
	for _, q := range r.s.quotes {
		switch {
		case filter.TrashedOnly && !q.IsTrashed():
			continue
		case !filter.TrashedOnly && !filter.IncludeTrashed && q.IsTrashed():
			continue
		case filter.Status != nil && q.Status != *filter.Status:
			continue
		}
		matched = append(matched, cloneQuote(q))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Number > matched[j].Number
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	return page(matched, params), total, nil
}

func (r *quoteRepository) ListIDs(_ context.Context) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.s.quotes))
	for id := range r.s.quotes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (r *quoteRepository) CountByStatus(_ context.Context) (map[domain.Status]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := make(map[domain.Status]int64, len(domain.AllStatuses))
	for _, q := range r.s.quotes {
		if !q.IsTrashed() {
			counts[q.Status]++
		}
	}
	return counts, nil
}

func (r *quoteRepository) Update(_ context.Context, quote *domain.Quote) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.quotes[quote.ID]
	if !ok {
		return domain.ErrQuoteNotFound
	}
	if stored.Signed || stored.Declined {
		return domain.ErrQuoteLocked
	}

	stored.ClientName = quote.ClientName
	stored.ClientEmail = quote.ClientEmail
	stored.ClientPhone = quote.ClientPhone
	stored.ClientAddress = quote.ClientAddress
	stored.Items = append(domain.LineItems{}, quote.Items...)
	stored.SubtotalCents = quote.SubtotalCents
	stored.TaxRate = quote.TaxRate
	stored.TaxCents = quote.TaxCents
	stored.TotalCents = quote.TotalCents
	stored.Notes = quote.Notes
	stored.UpdatedAt = r.s.now()
	r.s.quotes[quote.ID] = stored

	quote.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *quoteRepository) SetPDFRef(_ context.Context, id uuid.UUID, ref *string) error {
	return r.mutate(id, func(q *domain.Quote) { q.PDFRef = ref })
}

func (r *quoteRepository) UpdateStatusFields(_ context.Context, id uuid.UUID, expected domain.StatusVersion, fields domain.StatusFields) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.quotes[id]
	if !ok {
		return domain.ErrQuoteNotFound
	}
	if stored.Version() != expected {
		return domain.ErrConflictRetry
	}
	stored.SetStatusFields(fields)
	stored.Revision++
	stored.UpdatedAt = r.s.now()
	r.s.quotes[id] = stored
	return nil
}

func (r *quoteRepository) Trash(_ context.Context, id uuid.UUID) error {
	return r.mutate(id, func(q *domain.Quote) {
		if q.DeletedAt == nil {
			now := r.s.now()
			q.DeletedAt = &now
		}
	})
}

func (r *quoteRepository) Restore(_ context.Context, id uuid.UUID) error {
	return r.mutate(id, func(q *domain.Quote) { q.DeletedAt = nil })
}

func (r *quoteRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.quotes[id]; !ok {
		return domain.ErrQuoteNotFound
	}
	delete(r.s.quotes, id)
	delete(r.s.events, id)
	return nil
}

func (r *quoteRepository) NextNumber(_ context.Context) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.seq++
	return repository.FormatQuoteNumber(r.s.seq), nil
}

func (r *quoteRepository) mutate(id uuid.UUID, fn func(q *domain.Quote)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.quotes[id]
	if !ok {
		return domain.ErrQuoteNotFound
	}
	fn(&stored)
	stored.UpdatedAt = r.s.now()
	r.s.quotes[id] = stored
	return nil
}

// --- events ---

type eventRepository struct {
	s *Store
}

func (r *eventRepository) Append(_ context.Context, event *domain.Event) error {
	meta, err := domain.NormalizeMeta(event.Kind, event.Meta)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.quotes[event.QuoteID]; !ok {
		return domain.ErrQuoteNotFound
	}

	log := r.s.events[event.QuoteID]
	if event.IdempotencyKey != "" {
		for _, existing := range log {
			if existing.IdempotencyKey == event.IdempotencyKey {
				return &domain.DuplicateEventError{Existing: existing}
			}
		}
	}
	if event.Kind.IsTerminal() {
		for _, existing := range log {
			if existing.Kind.IsTerminal() {
				return &domain.DuplicateEventError{Existing: existing}
			}
		}
	}

	if event.At.IsZero() {
		event.At = r.s.now()
	}
	if n := len(log); n > 0 && event.At.Before(log[n-1].At) {
		event.At = log[n-1].At
	}
	event.Meta = meta

	r.s.events[event.QuoteID] = append(log, *event)
	for ch := range r.s.watchers[event.QuoteID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (r *eventRepository) ListEvents(_ context.Context, quoteID uuid.UUID) ([]domain.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return append([]domain.Event{}, r.s.events[quoteID]...), nil
}

func (r *eventRepository) Watch(ctx context.Context, quoteID uuid.UUID, fn func(domain.Event)) error {
	wake := make(chan struct{}, 1)
	r.s.mu.Lock()
	if r.s.watchers[quoteID] == nil {
		r.s.watchers[quoteID] = make(map[chan struct{}]struct{})
	}
	r.s.watchers[quoteID][wake] = struct{}{}
	r.s.mu.Unlock()

	defer func() {
		r.s.mu.Lock()
		delete(r.s.watchers[quoteID], wake)
		if len(r.s.watchers[quoteID]) == 0 {
			delete(r.s.watchers, quoteID)
		}
		r.s.mu.Unlock()
	}()

	feed := repository.NewEventFeed(fn)
	for {
		events, _ := r.ListEvents(ctx, quoteID)
		feed.Deliver(events)

		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		}
	}
}

// --- users ---

type userRepository struct {
	s *Store
}

func (r *userRepository) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.users[user.ID] = *user
	return nil
}

func (r *userRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (r *userRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.DeletedAt == nil && strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	return err == nil, nil
}

func (r *userRepository) ListByRole(_ context.Context, role domain.UserRole) ([]domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var users []domain.User
	for _, u := range r.s.users {
		if u.DeletedAt == nil && u.IsActive && u.Role == string(role) {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return users, nil
}

// --- sessions ---

type sessionRepository struct {
	s *Store
}

func (r *sessionRepository) Create(_ context.Context, session *repository.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	session.CreatedAt = r.s.now()
	r.s.sessions[session.ID] = *session
	return nil
}

func (r *sessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*repository.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	now := r.s.now()
	for _, sess := range r.s.sessions {
		if sess.TokenHash == tokenHash && sess.RevokedAt == nil && sess.ExpiresAt.After(now) {
			return &sess, nil
		}
	}
	return nil, nil
}

func (r *sessionRepository) Revoke(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if sess, ok := r.s.sessions[id]; ok && sess.RevokedAt == nil {
		now := r.s.now()
		sess.RevokedAt = &now
		r.s.sessions[id] = sess
	}
	return nil
}

func (r *sessionRepository) RevokeAllForUser(_ context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	for id, sess := range r.s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			sess.RevokedAt = &now
			r.s.sessions[id] = sess
		}
	}
	return nil
}

func (r *sessionRepository) DeleteExpired(_ context.Context) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	for id, sess := range r.s.sessions {
		if sess.ExpiresAt.Before(now) || sess.RevokedAt != nil {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

// --- notifications ---

type notificationRepository struct {
	s *Store
}

func (r *notificationRepository) Create(_ context.Context, notif *domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	notif.CreatedAt = r.s.now()
	r.s.notifications = append(r.s.notifications, *notif)
	return nil
}

func (r *notificationRepository) ListByUser(_ context.Context, userID uuid.UUID, unreadOnly bool, params domain.PaginationParams) ([]domain.Notification, int64, error) {
	params.Validate()

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []domain.Notification
	for i := len(r.s.notifications) - 1; i >= 0; i-- {
		n := r.s.notifications[i]
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		matched = append(matched, n)
	}
	return page(matched, params), int64(len(matched)), nil
}

func (r *notificationRepository) MarkAsRead(_ context.Context, id, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i := range r.s.notifications {
		n := &r.s.notifications[i]
		if n.ID != id || n.UserID != userID {
			continue
		}
		if !n.IsRead {
			now := r.s.now()
			n.IsRead = true
			n.ReadAt = &now
		}
		return nil
	}
	return domain.ErrNotificationNotFound
}

func (r *notificationRepository) MarkAllAsRead(_ context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	for i := range r.s.notifications {
		n := &r.s.notifications[i]
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &now
		}
	}
	return nil
}

func (r *notificationRepository) CountUnread(_ context.Context, userID uuid.UUID) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var count int64
	for _, n := range r.s.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func page[T any](items []T, params domain.PaginationParams) []T {
	start := params.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + params.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
