package models

import "time"

type ErrorKind string

const (
	ErrorKindNotFound      ErrorKind = "NotFound"
	ErrorKindTimeout       ErrorKind = "Timeout"
	ErrorKindTransport     ErrorKind = "Transport"
	ErrorKindMalformedPage ErrorKind = "MalformedPage"
	ErrorKindAuth          ErrorKind = "AuthError"
	ErrorKindHTTP          ErrorKind = "HttpError"
	ErrorKindValidation    ErrorKind = "ValidationError"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ShipmentResult is what a single worker reports back for one shipment.
type ShipmentResult struct {
	Shipment ShipmentRef
	Outcome  Outcome
	Kind     ErrorKind
	Message  string
	Events   int
}

type FailedShipment struct {
	Shipment  ShipmentRef `json:"shipment"`
	ErrorKind ErrorKind   `json:"error_kind"`
	Message   string      `json:"message"`
}

type SkippedShipment struct {
	Shipment ShipmentRef `json:"shipment"`
	Reason   ErrorKind   `json:"reason"`
}

// RunReport is built fresh for every pass and owned by the goroutine that
// drains the results channel.
type RunReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Pending    int               `json:"pending"`
	Attempted  int               `json:"attempted"`
	Succeeded  int               `json:"succeeded"`
	Skipped    []SkippedShipment `json:"skipped"`
	Failed     []FailedShipment  `json:"failed"`
	NotStarted int               `json:"not_started"`

	// Partial is set when the run budget expired or the run was aborted
	// before every pending shipment was started.
	Partial bool   `json:"partial"`
	Fatal   string `json:"fatal,omitempty"`
}

func NewRunReport(now time.Time) *RunReport {
	return &RunReport{
		StartedAt: now,
		Skipped:   []SkippedShipment{},
		Failed:    []FailedShipment{},
	}
}

func (r *RunReport) Add(res ShipmentResult) {
	r.Attempted++
	switch res.Outcome {
	case OutcomeSuccess:
		r.Succeeded++
	case OutcomeSkipped:
		r.Skipped = append(r.Skipped, SkippedShipment{Shipment: res.Shipment, Reason: res.Kind})
	default:
		r.Failed = append(r.Failed, FailedShipment{Shipment: res.Shipment, ErrorKind: res.Kind, Message: res.Message})
	}
}

// FailureRate is failed / attempted, 0 for an empty run.
func (r *RunReport) FailureRate() float64 {
	if r.Attempted == 0 {
		return 0
	}
	return float64(len(r.Failed)) / float64(r.Attempted)
}
