package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome carried by a Record.
type Status string

// Supported record statuses.
const (
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
)

// Well-known event names.
const (
	EventCollectKeywords = "collect_keywords"
	EventCollectMetrics  = "collect_metrics"
	EventClassifyIntent  = "classify_intent"
	EventJobStart        = "job_start"
	EventJobDone         = "job_done"
)

// Record is one structured event.
type Record struct {
	ID        uuid.UUID      `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Status    Status         `json:"status"`
	Source    string         `json:"source"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewRecord stamps a record with a fresh ID and the current UTC time.
func NewRecord(event string, status Status, source, message string, details map[string]any) Record {
	return Record{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Event:     event,
		Status:    status,
		Source:    source,
		Message:   message,
		Details:   details,
	}
}

// Validate performs coarse validation on Record payloads.
func (r Record) Validate() error {
	if r.Event == "" {
		return errors.New("event is required")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	switch r.Status {
	case StatusStarted, StatusSuccess, StatusError, StatusWarning:
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}
