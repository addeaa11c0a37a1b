// README: Base handler utilities (JSON helpers, error mapping, response shapes).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridematch/internal/apperr"
	"ridematch/internal/modules/profile"
	"ridematch/internal/modules/ride"
	"ridematch/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps an error kind to its HTTP status. Unknown errors are not
// echoed to the client.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrPermissionDenied):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrOracleUnavailable):
		writeError(c, http.StatusBadGateway, "routing provider unavailable")
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func decodeLocation(field string, l *types.Location) (types.Point, bool, string) {
	if l == nil {
		return types.Point{}, false, field + " is required"
	}
	p, err := l.Point()
	if err != nil {
		return types.Point{}, false, field + ": " + err.Error()
	}
	return p, true, ""
}

type rideResponse struct {
	ID          types.ID       `json:"id"`
	DriverID    types.ID       `json:"driver"`
	PassengerID types.ID       `json:"passenger"`
	Pickup      types.Location `json:"pickup_location"`
	Destination types.Location `json:"destination"`
	Status      ride.Status    `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func toRideResponse(r *ride.Ride) rideResponse {
	return rideResponse{
		ID:          r.ID,
		DriverID:    r.DriverID,
		PassengerID: r.PassengerID,
		Pickup:      types.LocationOf(r.Pickup),
		Destination: types.LocationOf(r.Destination),
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type rideRequestResponse struct {
	ID        types.ID           `json:"id"`
	RideID    types.ID           `json:"ride"`
	DriverID  types.ID           `json:"driver"`
	Status    ride.RequestStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func toRideRequestResponses(reqs []*ride.Request) []rideRequestResponse {
	out := make([]rideRequestResponse, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, toRideRequestResponse(r))
	}
	return out
}

func toRideRequestResponse(r *ride.Request) rideRequestResponse {
	return rideRequestResponse{
		ID:        r.ID,
		RideID:    r.RideID,
		DriverID:  r.DriverID,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type driverResponse struct {
	ID          types.ID        `json:"id"`
	FirstName   string          `json:"firstname"`
	LastName    string          `json:"lastname"`
	Location    *types.Location `json:"location"`
	Rating      float64         `json:"rating"`
	Preferences map[string]bool `json:"preferences"`
	Available   bool            `json:"available"`
}

func toDriverResponse(d *profile.Driver) driverResponse {
	out := driverResponse{
		ID:          d.ID,
		FirstName:   d.FirstName,
		LastName:    d.LastName,
		Rating:      d.Rating,
		Preferences: d.Preferences,
		Available:   d.Available,
	}
	if d.Location != nil {
		loc := types.LocationOf(*d.Location)
		out.Location = &loc
	}
	return out
}

type passengerResponse struct {
	ID             types.ID        `json:"id"`
	FirstName      string          `json:"firstname"`
	LastName       string          `json:"lastname"`
	PickupLocation *types.Location `json:"pickup_location"`
	Destination    *types.Location `json:"destination"`
	Preferences    map[string]bool `json:"preferences"`
}

func toPassengerResponse(p *profile.Passenger) passengerResponse {
	out := passengerResponse{
		ID:          p.ID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Preferences: p.Preferences,
	}
	if p.Pickup != nil {
		loc := types.LocationOf(*p.Pickup)
		out.PickupLocation = &loc
	}
	if p.Destination != nil {
		loc := types.LocationOf(*p.Destination)
		out.Destination = &loc
	}
	return out
}
