package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/resend/resend-go/v3"

	"quote-tracker/internal/config"
	"quote-tracker/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

type Service interface {
	SendQuoteEmail(ctx context.Context, toEmail, clientName string, quote *domain.Quote, link string, expiresAt time.Time) error
	SendQuoteActivityEmail(ctx context.Context, toEmail, recipientName string, notice domain.Notice) error
}

type service struct {
	client *resend.Client
	config *config.Config
}

func NewService(cfg *config.Config) Service {
	return &service{
		client: resend.NewClient(cfg.ResendAPIKey),
		config: cfg,
	}
}

func (s *service) sendEmail(ctx context.Context, toEmail, subject, templateName string, data interface{}) error {
	tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+templateName)
	if err != nil {
		return fmt.Errorf("failed to parse email templates: %w", err)
	}

	var body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&body, "layout.html", data); err != nil {
		return fmt.Errorf("failed to execute email template: %w", err)
	}

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", s.config.CompanyName, s.config.FromEmail),
		To:      []string{toEmail},
		Html:    body.String(),
		Subject: subject,
	}

	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (s *service) SendQuoteEmail(ctx context.Context, toEmail, clientName string, quote *domain.Quote, link string, expiresAt time.Time) error {
	data := struct {
		Title       string
		Company     string
		Name        string
		QuoteNumber string
		Total       string
		Link        string
		ExpiresOn   string
	}{
		Title:       fmt.Sprintf("Quote %s", quote.Number),
		Company:     s.config.CompanyName,
		Name:        clientName,
		QuoteNumber: quote.Number,
		Total:       FormatCents(quote.TotalCents),
		Link:        link,
		ExpiresOn:   expiresAt.Format("January 2, 2006"),
	}
	subject := fmt.Sprintf("Your quote %s from %s", quote.Number, s.config.CompanyName)
	return s.sendEmail(ctx, toEmail, subject, "quote.html", data)
}

func (s *service) SendQuoteActivityEmail(ctx context.Context, toEmail, recipientName string, notice domain.Notice) error {
	action, color := activityLabel(notice.Kind)

	var detail string
	switch m := notice.Meta.(type) {
	case domain.SignedMeta:
		if m.SignerName != "" {
			detail = "Signed by " + m.SignerName
		}
	case domain.DeclinedMeta:
		if m.Reason != "" {
			detail = "Reason: " + m.Reason
		}
	}

	data := struct {
		Title       string
		Company     string
		Name        string
		QuoteNumber string
		ClientName  string
		Action      string
		Color       string
		Detail      string
		At          string
		Link        string
	}{
		Title:       fmt.Sprintf("Quote %s %s", notice.QuoteNumber, action),
		Company:     s.config.CompanyName,
		Name:        recipientName,
		QuoteNumber: notice.QuoteNumber,
		ClientName:  notice.ClientName,
		Action:      action,
		Color:       color,
		Detail:      detail,
		At:          notice.At.Format("Jan 2, 2006 15:04 MST"),
		Link:        fmt.Sprintf("%s/quotes/%s", s.config.PublicAppURL, notice.QuoteID),
	}
	subject := fmt.Sprintf("Quote %s was %s by %s", notice.QuoteNumber, action, notice.ClientName)
	return s.sendEmail(ctx, toEmail, subject, "quote_activity.html", data)
}

func activityLabel(kind domain.EventKind) (string, string) {
	switch kind {
	case domain.EventOpened:
		return "viewed", "#f59e0b"
	case domain.EventSigned:
		return "signed", "#10b981"
	case domain.EventDeclined:
		return "declined", "#ef4444"
	}
	return string(kind), "#3b82f6"
}

// FormatCents renders an amount in cents as dollars, e.g. "$1,234.50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	dollars := fmt.Sprintf("%d", cents/100)
	for i := len(dollars) - 3; i > 0; i -= 3 {
		dollars = dollars[:i] + "," + dollars[i:]
	}
	return fmt.Sprintf("%s$%s.%02d", sign, dollars, cents%100)
}
