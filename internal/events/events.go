// Package events publishes enrollment lifecycle events for downstream consumers.
// Publishing is best-effort: the ledger, not the event stream, is the record of truth.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies an enrollment event.
type Type string

const (
	TypeGranted Type = "enrollment.granted"
	TypeRevoked Type = "enrollment.revoked"
)

// Event is the JSON payload written to the topic.
type Event struct {
	ID                string     `json:"id"`
	Type              Type       `json:"type"`
	OccurredAt        time.Time  `json:"occurredAt"`
	Product           string     `json:"product"`
	RecordID          string     `json:"recordId,omitempty"`
	PurchaseReference string     `json:"purchaseReference"`
	Email             string     `json:"email"`
	AccountID         string     `json:"accountId"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	FailedResources   int        `json:"failedResources"`
}

// New returns an event of type t with a fresh id.
func New(t Type, occurredAt time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: occurredAt.UTC(),
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Recorder keeps events in memory.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.Events = append(r.Events, event)
	return nil
}
