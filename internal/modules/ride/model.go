// README: Ride and ride request (offer) aggregates with their status definitions.
package ride

import (
	"fmt"
	"strings"
	"time"

	"ridematch/internal/apperr"
	"ridematch/internal/types"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

var rideStatuses = []Status{StatusPending, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled}

// ParseStatus matches v case-insensitively against the ride statuses.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range rideStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestRejected RequestStatus = "REJECTED"
	RequestExpired  RequestStatus = "EXPIRED"
)

// Decision is a driver's answer to an offer.
type Decision string

const (
	DecisionAccept Decision = Decision(RequestAccepted)
	DecisionReject Decision = Decision(RequestRejected)
)

func ParseDecision(v string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(v)))
	if d != DecisionAccept && d != DecisionReject {
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, v)
	}
	return d, nil
}

type Ride struct {
	ID types.ID
	// DriverID holds the top-ranked candidate until an offer is accepted, then the
	// accepting driver.
	DriverID    types.ID
	PassengerID types.ID
	Pickup      types.Point
	Destination types.Point
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Request is one offer of a ride to one driver.
type Request struct {
	ID        types.ID
	RideID    types.ID
	DriverID  types.ID
	Status    RequestStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Acceptance is the all-or-nothing write that closes a ride's offer round.
type Acceptance struct {
	RideID    types.ID
	RequestID types.ID
	DriverID  types.ID
	At        time.Time
}

// AllowedRequestTransitions represents the offer state flow as code.
// Every state other than PENDING is terminal.
var AllowedRequestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending: {RequestAccepted, RequestRejected, RequestExpired},
}

func CanTransition(from, to RequestStatus) bool {
	next, ok := AllowedRequestTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

var (
	ErrRideNotFound    = fmt.Errorf("%w: ride not found", apperr.ErrNotFound)
	ErrRequestNotFound = fmt.Errorf("%w: ride request not found", apperr.ErrNotFound)

	ErrNoDriversAvailable = fmt.Errorf("%w: no available drivers found", apperr.ErrNotFound)
	ErrNoLocatedDrivers   = fmt.Errorf("%w: no drivers with location information available", apperr.ErrNotFound)
	ErrNoSuitableDrivers  = fmt.Errorf("%w: no suitable drivers found", apperr.ErrNotFound)

	ErrAlreadyResolved = fmt.Errorf("%w: ride request already resolved", apperr.ErrConflict)
	ErrDuplicateOffer  = fmt.Errorf("%w: driver already has an offer for this ride", apperr.ErrConflict)

	ErrInvalidDecision = fmt.Errorf("%w: decision must be ACCEPTED or REJECTED", apperr.ErrInvalidArgument)
	ErrInvalidStatus   = fmt.Errorf("%w: unknown ride status", apperr.ErrInvalidArgument)

	ErrNotOfferedDriver   = fmt.Errorf("%w: ride request belongs to another driver", apperr.ErrPermissionDenied)
	ErrNotPassengerOwner  = fmt.Errorf("%w: cannot request rides for this passenger", apperr.ErrPermissionDenied)
	ErrNotRideParticipant = fmt.Errorf("%w: not a participant of this ride", apperr.ErrPermissionDenied)
)
