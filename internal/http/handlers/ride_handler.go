// README: Ride handlers for dispatch, offer responses, offers listing and status updates.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridematch/internal/http/middleware"
	"ridematch/internal/modules/ride"
	"ridematch/internal/types"
)

type RideHandler struct {
	ride *ride.Service
}

func NewRideHandler(svc *ride.Service) *RideHandler {
	return &RideHandler{ride: svc}
}

type createMatchReq struct {
	PassengerID    string          `json:"passenger_id"`
	PickupLocation *types.Location `json:"pickup_location"`
	Destination    *types.Location `json:"destination"`
	Preferences    map[string]bool `json:"preferences"`
}

func (h *RideHandler) CreateMatch(c *gin.Context) {
	var req createMatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	pickup, ok, msg := decodeLocation("pickup_location", req.PickupLocation)
	if !ok {
		writeError(c, http.StatusBadRequest, msg)
		return
	}
	dest, ok, msg := decodeLocation("destination", req.Destination)
	if !ok {
		writeError(c, http.StatusBadRequest, msg)
		return
	}

	res, err := h.ride.CreateMatch(c.Request.Context(), ride.MatchCommand{
		Caller:      middleware.Caller(c),
		PassengerID: types.ID(req.PassengerID),
		Pickup:      pickup,
		Destination: dest,
		Preferences: req.Preferences,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"ride":          toRideResponse(res.Ride),
		"ride_requests": toRideRequestResponses(res.Offers),
	})
}

type respondReq struct {
	Status string `json:"status"`
}

func (h *RideHandler) Respond(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing ride request id")
		return
	}
	var req respondReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	out, err := h.ride.Respond(c.Request.Context(), ride.RespondCommand{
		Caller:    middleware.Caller(c),
		RequestID: types.ID(id),
		Decision:  req.Status,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"status":       "Request updated successfully",
		"ride_request": toRideRequestResponse(out),
	})
}

type setStatusReq struct {
	Status string `json:"status"`
}

func (h *RideHandler) SetStatus(c *gin.Context) {
	var req setStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.ride.SetStatus(c.Request.Context(), types.ID(c.Param("id")), req.Status)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ride status updated", "ride": toRideResponse(r)})
}

func (h *RideHandler) Offers(c *gin.Context) {
	offers, err := h.ride.Offers(c.Request.Context(), middleware.Caller(c), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_requests": toRideRequestResponses(offers)})
}

// MyOffers lists the offers made to the calling driver.
func (h *RideHandler) MyOffers(c *gin.Context) {
	offers, err := h.ride.MyOffers(c.Request.Context(), middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_requests": toRideRequestResponses(offers)})
}

// ExpireOffers closes a ride's outstanding offers. Staff only.
func (h *RideHandler) ExpireOffers(c *gin.Context) {
	if !middleware.Caller(c).Staff {
		writeError(c, http.StatusForbidden, "staff only")
		return
	}
	expired, err := h.ride.ExpireOffers(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if expired == nil {
		expired = []types.ID{}
	}
	writeJSON(c, http.StatusOK, gin.H{"expired": expired})
}
