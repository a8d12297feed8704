package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const lastReportKey = "tracksync:report:last"

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// ReportStore хранит отчёт последнего прогона, чтобы его видели все реплики.
type ReportStore struct {
	c   *redis.Client
	ttl time.Duration
}

func NewReportStore(c *redis.Client, ttl time.Duration) *ReportStore {
	return &ReportStore{c: c, ttl: ttl}
}

func (s *ReportStore) SaveReport(ctx context.Context, r *models.RunReport) error {
	b, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	if err := s.c.Set(ctx, lastReportKey, b, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// LastReport returns (nil, false, nil) when no pass has been stored yet.
func (s *ReportStore) LastReport(ctx context.Context) (*models.RunReport, bool, error) {
	b, err := s.c.Get(ctx, lastReportKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	var r models.RunReport
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, false, errors.Wrap(err, "unmarshal report")
	}
	return &r, true, nil
}

func (s *ReportStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.c.Ping(ctx).Err(), "redis ping")
}
