package services

import (
	"context"
	"time"

	"bridge-backend/internal/cache"
	"bridge-backend/internal/repository"
)

const statsCacheTTL = 5 * time.Minute

// DailyStats is the read-only confirmed-deposit projection for one UTC day.
type DailyStats struct {
	Date   string                 `json:"date"`
	Tokens []repository.TokenStat `json:"tokens"`
}

// StatsService serves the admin reporting projection. The aggregate query is
// the kind of expensive idempotent read the keyed cache exists for: N
// concurrent requests for the same day cost one query.
type StatsService struct {
	deposits repository.DepositRepository
	cache    *cache.KeyedCache
}

// NewStatsService creates a StatsService.
func NewStatsService(deposits repository.DepositRepository, c *cache.KeyedCache) *StatsService {
	return &StatsService{deposits: deposits, cache: c}
}

// Daily returns the confirmed-deposit stats for the UTC day of date.
func (s *StatsService) Daily(ctx context.Context, date time.Time) (*DailyStats, error) {
	day := date.UTC().Format("2006-01-02")
	value, err := s.cache.Get(ctx, "stats:"+day, statsCacheTTL, func(ctx context.Context) (interface{}, error) {
		tokens, err := s.deposits.DailyStats(ctx, date)
		if err != nil {
			return nil, err
		}
		return &DailyStats{Date: day, Tokens: tokens}, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*DailyStats), nil
}
