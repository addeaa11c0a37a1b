// README: Dispatch events emitted after state changes commit.
package events

import (
	"context"
	"time"

	"ridematch/internal/types"
)

type Type string

const (
	RideCreated       Type = "ride.created"
	OfferResolved     Type = "offer.resolved"
	OffersExpired     Type = "offer.expired"
	RideStatusChanged Type = "ride.status_changed"
)

type Event struct {
	Type      Type       `json:"type"`
	RideID    types.ID   `json:"ride_id"`
	RequestID types.ID   `json:"request_id,omitempty"`
	DriverID  types.ID   `json:"driver_id,omitempty"`
	Status    string     `json:"status,omitempty"`
	DriverIDs []types.ID `json:"driver_ids,omitempty"`
	At        time.Time  `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
