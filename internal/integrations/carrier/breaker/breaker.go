package breaker

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/carrier"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

type Config struct {
	Name             string
	MaxRequests      uint32        // allowed in half-open state
	Interval         time.Duration // 0 = never clear counts while closed
	OpenTimeout      time.Duration // open -> half-open
	FailureThreshold uint32        // consecutive failures to trip
}

func DefaultConfig() Config {
	return Config{
		Name:             "ssw",
		MaxRequests:      1,
		Interval:         60 * time.Second,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
	}
}

// Client stops calling the carrier after a streak of transport failures.
type Client struct {
	next carrier.Client
	cb   *gobreaker.CircuitBreaker
}

func Wrap(next carrier.Client, cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// "нет записи" и поломанная вёрстка: сайт ответил, значит он доступен.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, carrier.ErrNotFound) || errors.Is(err, carrier.ErrMalformedPage)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("carrier circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (c *Client) Fetch(ctx context.Context, ref models.ShipmentRef) (carrier.RawPage, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.next.Fetch(ctx, ref)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return carrier.RawPage{}, errors.Wrapf(carrier.ErrTransport, "circuit %s: %v", c.cb.Name(), err)
	}
	if err != nil {
		return carrier.RawPage{}, err
	}
	return res.(carrier.RawPage), nil
}

func (c *Client) State() string {
	return c.cb.State().String()
}
