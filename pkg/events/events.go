package events

import (
	"context"
	"time"
)

// StatusChanged is emitted on every evaluation request transition.
type StatusChanged struct {
	RequestID  string    `json:"requestId"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers status events to interested collaborators.
type Publisher interface {
	PublishStatus(ctx context.Context, evt StatusChanged) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// PublishStatus implements Publisher.
func (NopPublisher) PublishStatus(context.Context, StatusChanged) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
