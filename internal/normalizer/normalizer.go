package normalizer

import (
	"sort"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/occurrence"
)

type Normalizer struct {
	catalog *occurrence.Catalog
}

func New(catalog *occurrence.Catalog) *Normalizer {
	if catalog == nil {
		catalog = occurrence.Default()
	}
	return &Normalizer{catalog: catalog}
}

// Build merges extracted events with shipment identity. It does no I/O and
// returns the same record for any ordering of the same events.
func (n *Normalizer) Build(ref models.ShipmentRef, events []models.TrackingEvent, extractedAt time.Time) models.ShipmentUpdate {
	out := make([]models.TrackingEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, n.resolve(ev))
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	out = dedup(out)

	upd := models.ShipmentUpdate{
		TrackingCode:  nil, // SSW не отдаёт собственный трек-номер на этой странице
		InvoiceNumber: ref.InvoiceNumber,
		Document:      ref.Document,
		Carrier:       models.CarrierSSW,
		CurrentStatus: models.TrackingStatusPending,
		Events:        out,
		LastUpdate:    extractedAt,
	}
	if len(out) > 0 {
		latest := out[len(out)-1]
		upd.CurrentStatus = latest.Status
		upd.LastUpdate = latest.OccurredAt
	}
	return upd
}

func (n *Normalizer) resolve(ev models.TrackingEvent) models.TrackingEvent {
	entry, ok := n.catalog.Lookup(ev.OccurrenceCode)
	if !ok {
		ev.UnknownCode = true
		return ev
	}
	ev.UnknownCode = false
	ev.Status = occurrence.StatusFor(entry)
	if ev.Description == "" {
		ev.Description = entry.Description
	}
	return ev
}

func less(a, b models.TrackingEvent) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.RawData < b.RawData
}

type eventKey struct {
	at          int64
	code        string
	description string
	location    string
	unit        string
}

// dedup keeps the first of events that describe the same occurrence; input is sorted.
func dedup(events []models.TrackingEvent) []models.TrackingEvent {
	seen := make(map[eventKey]struct{}, len(events))
	out := events[:0]
	for _, ev := range events {
		k := eventKey{
			at:          ev.OccurredAt.UnixNano(),
			code:        ev.OccurrenceCode,
			description: ev.Description,
			location:    ev.Location,
			unit:        ev.Unit,
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ev)
	}
	return out
}
