package dashboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/repository"
)

const (
	statsCacheKey = "dashboard:quote-stats"
	statsCacheTTL = time.Minute
)

// Stats is the sales pipeline at a glance. Trashed quotes are excluded.
type Stats struct {
	TotalQuotes int64                   `json:"total_quotes"`
	ByStatus    map[domain.Status]int64 `json:"by_status"`
	// AwaitingResponse counts quotes the client has but has not answered.
	AwaitingResponse int64 `json:"awaiting_response"`
	// WinRate is signed / (signed + declined), zero until a quote is closed.
	WinRate     float64   `json:"win_rate"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Service interface {
	GetStats(ctx context.Context) (*Stats, error)
}

type service struct {
	quoteRepo repository.QuoteRepository
	redis     *redis.Client
}

func NewService(quoteRepo repository.QuoteRepository, redis *redis.Client) Service {
	return &service{
		quoteRepo: quoteRepo,
		redis:     redis,
	}
}

func (s *service) GetStats(ctx context.Context) (*Stats, error) {
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, statsCacheKey).Result(); err == nil {
			var stats Stats
			if json.Unmarshal([]byte(cached), &stats) == nil {
				return &stats, nil
			}
		}
	}

	counts, err := s.quoteRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByStatus:    make(map[domain.Status]int64, len(domain.AllStatuses)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, status := range domain.AllStatuses {
		n := counts[status]
		stats.ByStatus[status] = n
		stats.TotalQuotes += n
	}
	stats.AwaitingResponse = stats.ByStatus[domain.StatusSent] + stats.ByStatus[domain.StatusViewed]
	if closed := stats.ByStatus[domain.StatusSigned] + stats.ByStatus[domain.StatusDeclined]; closed > 0 {
		stats.WinRate = float64(stats.ByStatus[domain.StatusSigned]) / float64(closed)
	}

	if s.redis != nil {
		if statsJSON, err := json.Marshal(stats); err == nil {
			_ = s.redis.Set(ctx, statsCacheKey, statsJSON, statsCacheTTL).Err()
		}
	}

	return stats, nil
}
