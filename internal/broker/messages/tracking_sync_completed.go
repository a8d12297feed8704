package messages

import "time"

// TrackingSyncCompleted summarises one sync pass.
type TrackingSyncCompleted struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Pending    int `json:"pending"`
	Attempted  int `json:"attempted"`
	Succeeded  int `json:"succeeded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	NotStarted int `json:"not_started"`

	Partial bool `json:"partial"`

	FailedByKind map[string]int `json:"failed_by_kind,omitempty"`
	Error        *string        `json:"error,omitempty"`
}
