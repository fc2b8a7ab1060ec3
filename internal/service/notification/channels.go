package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/pkg/i18n"
	"quote-tracker/internal/repository"
	"quote-tracker/internal/service/email"
)

func describe(notice domain.Notice) string {
	client := notice.ClientName
	if client == "" {
		client = "The client"
	}
	switch notice.Kind {
	case domain.EventOpened:
		return fmt.Sprintf("%s opened quote %s", client, notice.QuoteNumber)
	case domain.EventSigned:
		if m, ok := notice.Meta.(domain.SignedMeta); ok && m.SignerName != "" {
			return fmt.Sprintf("%s signed quote %s (signed by %s)", client, notice.QuoteNumber, m.SignerName)
		}
		return fmt.Sprintf("%s signed quote %s", client, notice.QuoteNumber)
	case domain.EventDeclined:
		if m, ok := notice.Meta.(domain.DeclinedMeta); ok && m.Reason != "" {
			return fmt.Sprintf("%s declined quote %s: %s", client, notice.QuoteNumber, m.Reason)
		}
		return fmt.Sprintf("%s declined quote %s", client, notice.QuoteNumber)
	}
	return fmt.Sprintf("Quote %s: %s", notice.QuoteNumber, notice.Kind)
}

// staff returns the quote's creator and every active admin, deduplicated.
func staff(ctx context.Context, users repository.UserRepository, notice domain.Notice) ([]domain.User, error) {
	admins, err := users.ListByRole(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(admins)+1)
	var out []domain.User
	if notice.CreatedBy != uuid.Nil {
		creator, err := users.GetByID(ctx, notice.CreatedBy)
		if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
			return nil, fmt.Errorf("failed to get quote creator: %w", err)
		}
		if creator != nil && creator.IsActive {
			seen[creator.ID] = true
			out = append(out, *creator)
		}
	}
	for _, u := range admins {
		if !seen[u.ID] {
			seen[u.ID] = true
			out = append(out, u)
		}
	}
	return out, nil
}

type emailChannel struct {
	users       repository.UserRepository
	emailSvc    email.Service
	adminEmails []string
}

// NewEmailChannel mails the quote's creator, the active admins and every
// address in adminEmails.
func NewEmailChannel(users repository.UserRepository, emailSvc email.Service, adminEmails []string) Channel {
	return &emailChannel{users: users, emailSvc: emailSvc, adminEmails: adminEmails}
}

func (c *emailChannel) Name() string { return "email" }

func (c *emailChannel) Send(ctx context.Context, notice domain.Notice) error {
	recipients, err := staff(ctx, c.users, notice)
	if err != nil {
		return err
	}

	names := make(map[string]string)
	var order []string
	add := func(addr, name string) {
		key := strings.ToLower(strings.TrimSpace(addr))
		if key == "" {
			return
		}
		if _, ok := names[key]; ok {
			return
		}
		names[key] = name
		order = append(order, addr)
	}
	for _, u := range recipients {
		add(u.Email, u.FullName)
	}
	for _, addr := range c.adminEmails {
		add(addr, "")
	}

	var errs []error
	for _, addr := range order {
		name := names[strings.ToLower(strings.TrimSpace(addr))]
		if name == "" {
			name = "there"
		}
		if err := c.emailSvc.SendQuoteActivityEmail(ctx, addr, name, notice); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		}
	}
	return errors.Join(errs...)
}

type webhookChannel struct {
	url     string
	timeout time.Duration
}

// NewWebhookChannel posts a chat message ({"text": ...}) to url.
func NewWebhookChannel(url string, timeout time.Duration) Channel {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &webhookChannel{url: url, timeout: timeout}
}

func (c *webhookChannel) Name() string { return "webhook" }

func (c *webhookChannel) Send(ctx context.Context, notice domain.Notice) error {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	payload := fiber.Map{
		"text":     describe(notice),
		"quote_id": notice.QuoteID.String(),
		"event":    string(notice.Kind),
		"at":       notice.At.Format(time.RFC3339),
	}

	code, body, errs := fiber.Post(c.url).JSON(payload).Timeout(timeout).Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("webhook request failed: %w", errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("webhook returned %d: %s", code, strings.TrimSpace(string(body)))
	}
	return nil
}

type inboxChannel struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	locale        string
}

// NewInboxChannel writes a bell notification for the quote's creator and
// every active admin.
func NewInboxChannel(notifications repository.NotificationRepository, users repository.UserRepository, locale string) Channel {
	return &inboxChannel{notifications: notifications, users: users, locale: locale}
}

func (c *inboxChannel) Name() string { return "inbox" }

func (c *inboxChannel) Send(ctx context.Context, notice domain.Notice) error {
	notifType, ok := domain.NotificationTypeFor(notice.Kind)
	if !ok {
		return nil
	}

	recipients, err := staff(ctx, c.users, notice)
	if err != nil {
		return err
	}

	data, _ := json.Marshal(map[string]string{
		"quote_id":     notice.QuoteID.String(),
		"quote_number": notice.QuoteNumber,
		"event_id":     notice.EventID.String(),
		"kind":         string(notice.Kind),
	})
	quoteID := notice.QuoteID
	title := i18n.Translate(c.locale, string(notifType)+"_TITLE")

	var errs []error
	for _, user := range recipients {
		notif := &domain.Notification{
			ID:      uuid.New(),
			UserID:  user.ID,
			QuoteID: &quoteID,
			Type:    notifType,
			Title:   title,
			Message: describe(notice),
			Data:    json.RawMessage(data),
		}
		if err := c.notifications.Create(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", user.ID, err))
		}
	}
	return errors.Join(errs...)
}
