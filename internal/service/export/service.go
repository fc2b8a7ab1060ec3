package export

import (
	"context"
	"time"

	"github.com/google/uuid"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/service/quote"
)

type Service interface {
	ExportQuote(ctx context.Context, quoteID uuid.UUID) (*domain.QuoteExport, error)
}

type service struct {
	quoteSvc quote.Service
}

func NewService(quoteSvc quote.Service) Service {
	return &service{quoteSvc: quoteSvc}
}

func (s *service) ExportQuote(ctx context.Context, quoteID uuid.UUID) (*domain.QuoteExport, error) {
	q, err := s.quoteSvc.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	events, err := s.quoteSvc.Events(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	summary, err := s.quoteSvc.StatusSummary(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	if events == nil {
		events = []domain.Event{}
	}
	return &domain.QuoteExport{
		ExportedAt: time.Now().UTC(),
		Quote:      *q,
		Events:     events,
		Summary:    *summary,
	}, nil
}
