package api

import (
	"time"

	"github.com/mattjoyce/switchyard/internal/dispatch"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	TodoDepth        int    `json:"todo_depth"`
	DoneDepth        int    `json:"done_depth"`
	Pending          int    `json:"pending"`
	Workers          int    `json:"workers"`
	WorkersConnected int    `json:"workers_connected"`
}

// WorkersResponse is returned by GET /workers.
type WorkersResponse struct {
	Workers []dispatch.SlotStats `json:"workers"`
}

// JournalEntry is one row of GET /journal responses.
type JournalEntry struct {
	ID            int64     `json:"id"`
	RecordedAt    time.Time `json:"recorded_at"`
	Stage         string    `json:"stage"`
	Name          string    `json:"name"`
	Kind          string    `json:"kind"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Worker        *int      `json:"worker,omitempty"`
	Message       string    `json:"message,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// JournalResponse is returned by GET /journal and GET /journal/{id}.
type JournalResponse struct {
	Entries []JournalEntry `json:"entries"`
}
