package messages

import (
	"time"
)

// ShipmentSynced is published after the owning API accepted an update.
type ShipmentSynced struct {
	InvoiceNumber string    `json:"invoice_number"`
	Document      string    `json:"document"`
	Carrier       string    `json:"carrier"`
	SyncedAt      time.Time `json:"synced_at"`

	CurrentStatus string    `json:"current_status"`
	LastUpdate    time.Time `json:"last_update"`
	EventsCount   int       `json:"events_count"`

	UnknownCodes []string `json:"unknown_codes,omitempty"`
}
