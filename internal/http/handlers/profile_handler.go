// README: Driver and passenger self-service handlers.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridematch/internal/http/middleware"
	"ridematch/internal/modules/profile"
	"ridematch/internal/types"
)

type ProfileHandler struct {
	profile *profile.Service
}

func NewProfileHandler(svc *profile.Service) *ProfileHandler {
	return &ProfileHandler{profile: svc}
}

func (h *ProfileHandler) DriverMe(c *gin.Context) {
	d, err := h.profile.DriverByUser(c.Request.Context(), middleware.Caller(c).UserID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResponse(d))
}

func (h *ProfileHandler) PassengerMe(c *gin.Context) {
	p, err := h.profile.PassengerByUser(c.Request.Context(), middleware.Caller(c).UserID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toPassengerResponse(p))
}

func (h *ProfileHandler) ToggleAvailability(c *gin.Context) {
	d, err := h.profile.ToggleAvailability(c.Request.Context(), middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"available": d.Available,
		"message":   fmt.Sprintf("Availability set to %t", d.Available),
	})
}

type updateLocationReq struct {
	Location *types.Location `json:"location"`
}

func (h *ProfileHandler) UpdateLocation(c *gin.Context) {
	var req updateLocationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Location == nil {
		writeError(c, http.StatusBadRequest, "Invalid location data")
		return
	}
	d, err := h.profile.UpdateLocation(c.Request.Context(), middleware.Caller(c), *req.Location)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"location": types.LocationOf(*d.Location),
		"message":  "Location updated successfully",
	})
}
