package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"quote-tracker/internal/domain"
)

type EmailService struct {
	mock.Mock
}

func (m *EmailService) SendQuoteEmail(ctx context.Context, toEmail, clientName string, quote *domain.Quote, link string, expiresAt time.Time) error {
	args := m.Called(ctx, toEmail, clientName, quote, link, expiresAt)
	return args.Error(0)
}

func (m *EmailService) SendQuoteActivityEmail(ctx context.Context, toEmail, recipientName string, notice domain.Notice) error {
	args := m.Called(ctx, toEmail, recipientName, notice)
	return args.Error(0)
}
