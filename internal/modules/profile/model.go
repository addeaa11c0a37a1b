// README: Driver and passenger profiles referenced by dispatch.
package profile

import (
	"fmt"
	"maps"

	"ridematch/internal/apperr"
	"ridematch/internal/types"
)

const DefaultRating = 5.0

var (
	ErrDriverNotFound    = fmt.Errorf("%w: driver not found", apperr.ErrNotFound)
	ErrPassengerNotFound = fmt.Errorf("%w: no passenger profile found", apperr.ErrNotFound)
)

type Driver struct {
	ID        types.ID
	UserID    types.ID
	FirstName string
	LastName  string
	// Location is nil until the driver reports one; such drivers are never dispatched.
	Location    *types.Point
	Rating      float64
	Preferences map[string]bool
	Available   bool
}

type Passenger struct {
	ID          types.ID
	UserID      types.ID
	FirstName   string
	LastName    string
	Pickup      *types.Point
	Destination *types.Point
	Preferences map[string]bool
}

func (d Driver) clone() Driver {
	if d.Location != nil {
		loc := *d.Location
		d.Location = &loc
	}
	d.Preferences = maps.Clone(d.Preferences)
	return d
}

func (p Passenger) clone() Passenger {
	if p.Pickup != nil {
		v := *p.Pickup
		p.Pickup = &v
	}
	if p.Destination != nil {
		v := *p.Destination
		p.Destination = &v
	}
	p.Preferences = maps.Clone(p.Preferences)
	return p
}
