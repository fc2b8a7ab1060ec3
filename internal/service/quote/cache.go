package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quote-tracker/internal/domain"
)

const (
	summaryTTL    = 5 * time.Minute
	generationTTL = 24 * time.Hour
)

// SummaryCache keeps derived status summaries in redis. It is registered as
// the recorder's observer so every recorded event drops the cached entry.
// A nil redis client disables caching.
//
// Each quote has a generation counter that every recorded event bumps.
// Entries carry the generation read before their summary was derived and
// are only served while it is still current, so a summary derived from a
// log snapshot older than the latest event is never returned.
type SummaryCache struct {
	redis *redis.Client
	ttl   time.Duration
}

type cachedSummary struct {
	Generation int64                 `json:"generation"`
	Summary    *domain.StatusSummary `json:"summary"`
}

func NewSummaryCache(client *redis.Client) *SummaryCache {
	return &SummaryCache{redis: client, ttl: summaryTTL}
}

func summaryKey(id uuid.UUID) string {
	return fmt.Sprintf("quote:summary:%s", id)
}

func generationKey(id uuid.UUID) string {
	return fmt.Sprintf("quote:summary:gen:%s", id)
}

func (c *SummaryCache) enabled() bool {
	return c != nil && c.redis != nil
}

// Generation returns the quote's current generation. It must be read before
// the log is. ok is false when the cache is unavailable.
func (c *SummaryCache) Generation(ctx context.Context, id uuid.UUID) (int64, bool) {
	if !c.enabled() {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(id)).Int64()
	switch {
	case err == redis.Nil:
		return 0, true
	case err != nil:
		return 0, false
	}
	return gen, true
}

func (c *SummaryCache) Get(ctx context.Context, id uuid.UUID) (*domain.StatusSummary, bool) {
	if !c.enabled() {
		return nil, false
	}
	vals, err := c.redis.MGet(ctx, summaryKey(id), generationKey(id)).Result()
	if err != nil || len(vals) != 2 {
		return nil, false
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, false
	}
	var current int64
	if s, ok := vals[1].(string); ok {
		if current, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, false
		}
	}

	var entry cachedSummary
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Summary == nil {
		return nil, false
	}
	if entry.Generation != current {
		return nil, false
	}
	return entry.Summary, true
}

// Set stores a summary derived at generation gen.
func (c *SummaryCache) Set(ctx context.Context, summary *domain.StatusSummary, gen int64) {
	if !c.enabled() {
		return
	}
	if data, err := json.Marshal(cachedSummary{Generation: gen, Summary: summary}); err == nil {
		_ = c.redis.Set(ctx, summaryKey(summary.QuoteID), data, c.ttl).Err()
	}
}

// Invalidate bumps the generation and drops the entry.
func (c *SummaryCache) Invalidate(ctx context.Context, id uuid.UUID) {
	if !c.enabled() {
		return
	}
	_, _ = c.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(id))
		pipe.Expire(ctx, generationKey(id), generationTTL)
		pipe.Del(ctx, summaryKey(id))
		return nil
	})
}

func (c *SummaryCache) EventRecorded(ctx context.Context, quoteID uuid.UUID) {
	c.Invalidate(ctx, quoteID)
}
