package models

import "time"

// CarrierSSW: единственный перевозчик, которого обслуживает синхронизация.
const CarrierSSW = "SSW"

// Нормализованные статусы (можно расширять).
const (
	TrackingStatusPending        = "pending"
	TrackingStatusInTransit      = "in_transit"
	TrackingStatusOutForDelivery = "out_for_delivery"
	TrackingStatusDelivered      = "delivered"
	TrackingStatusReturned       = "returned"
	TrackingStatusCancelled      = "cancelled"
	TrackingStatusFailedDelivery = "failed_delivery"
	TrackingStatusHeld           = "held"
)

// ShipmentRef identifies a pending shipment in the owning API.
type ShipmentRef struct {
	InvoiceNumber string `json:"invoice_number"`
	Document      string `json:"document"`
}

func (r ShipmentRef) String() string {
	return r.Document + "/" + r.InvoiceNumber
}

type TrackingEvent struct {
	OccurrenceCode string    `json:"occurrence_code"`
	Status         string    `json:"status"`
	Description    string    `json:"description"`
	Location       string    `json:"location"`
	Unit           string    `json:"unit"`
	OccurredAt     time.Time `json:"occurred_at"`
	RawData        string    `json:"raw_data"`

	// UnknownCode marks events whose occurrence code is not in the catalog.
	UnknownCode bool `json:"unknown_code,omitempty"`

	// Seq is the row position on the carrier page.
	Seq int `json:"-"`
}

type ShipmentUpdate struct {
	TrackingCode  *string         `json:"tracking_code"`
	InvoiceNumber string          `json:"invoice_number"`
	Document      string          `json:"document"`
	Carrier       string          `json:"carrier"`
	CurrentStatus string          `json:"current_status"`
	Events        []TrackingEvent `json:"events"`
	LastUpdate    time.Time       `json:"last_update"`
}

func (u ShipmentUpdate) Ref() ShipmentRef {
	return ShipmentRef{InvoiceNumber: u.InvoiceNumber, Document: u.Document}
}
