package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quote-tracker/internal/domain"
)

const claimTTL = 90 * 24 * time.Hour

func claimKey(notice domain.Notice) string {
	return fmt.Sprintf("quote:notice:%s:%s", notice.QuoteID, notice.Kind)
}

type redisClaimer struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClaimer(client *redis.Client) Claimer {
	return &redisClaimer{client: client, ttl: claimTTL}
}

func (c *redisClaimer) Claim(ctx context.Context, notice domain.Notice) (bool, error) {
	ok, err := c.client.SetNX(ctx, claimKey(notice), notice.EventID.String(), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim notice: %w", err)
	}
	return ok, nil
}

// MemoryClaimer claims notices in process.
type MemoryClaimer struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{claimed: make(map[string]struct{})}
}

func (c *MemoryClaimer) Claim(_ context.Context, notice domain.Notice) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := claimKey(notice)
	if _, ok := c.claimed[key]; ok {
		return false, nil
	}
	c.claimed[key] = struct{}{}
	return true, nil
}
