package carrier

import (
	"context"
	"errors"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
)

var (
	ErrNotFound      = errors.New("carrier: no record for shipment")
	ErrTimeout       = errors.New("carrier: request timed out")
	ErrTransport     = errors.New("carrier: transport failure")
	ErrMalformedPage = errors.New("carrier: malformed tracking page")
)

// RawPage is the carrier response body for one shipment lookup.
type RawPage struct {
	Shipment  models.ShipmentRef
	Body      []byte
	FetchedAt time.Time
}

// Client fetches the tracking page for one shipment. Implementations never retry.
type Client interface {
	Fetch(ctx context.Context, ref models.ShipmentRef) (RawPage, error)
}
