package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"quote-tracker/internal/domain"
)

type Notifier struct {
	mock.Mock
}

func (m *Notifier) Notify(ctx context.Context, notice domain.Notice) {
	m.Called(ctx, notice)
}

type Observer struct {
	mock.Mock
}

func (m *Observer) EventRecorded(ctx context.Context, quoteID uuid.UUID) {
	m.Called(ctx, quoteID)
}

// Channel is a notification channel.
type Channel struct {
	mock.Mock
}

func (m *Channel) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *Channel) Send(ctx context.Context, msg domain.Notice) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
