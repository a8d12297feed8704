package messages

import "time"

// SyncRequested asks a running worker for an out-of-schedule pass.
type SyncRequested struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}
