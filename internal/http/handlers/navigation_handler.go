// README: Navigation handlers for route planning and travel time estimates.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridematch/internal/maps"
	"ridematch/internal/types"
)

type RoutePlanner interface {
	OptimalRoute(ctx context.Context, origin, destination types.Point, waypoints []types.Point) (*maps.RouteSummary, error)
}

type NavigationHandler struct {
	routes RoutePlanner
}

func NewNavigationHandler(routes RoutePlanner) *NavigationHandler {
	return &NavigationHandler{routes: routes}
}

type routeReq struct {
	Origin      *types.Location  `json:"origin"`
	Destination *types.Location  `json:"destination"`
	Waypoints   []types.Location `json:"waypoints"`
}

func (h *NavigationHandler) plan(c *gin.Context) (*maps.RouteSummary, bool) {
	var req routeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return nil, false
	}
	origin, ok, msg := decodeLocation("origin", req.Origin)
	if !ok {
		writeError(c, http.StatusBadRequest, msg)
		return nil, false
	}
	dest, ok, msg := decodeLocation("destination", req.Destination)
	if !ok {
		writeError(c, http.StatusBadRequest, msg)
		return nil, false
	}
	waypoints := make([]types.Point, 0, len(req.Waypoints))
	for i := range req.Waypoints {
		p, ok, msg := decodeLocation("waypoints", &req.Waypoints[i])
		if !ok {
			writeError(c, http.StatusBadRequest, msg)
			return nil, false
		}
		waypoints = append(waypoints, p)
	}

	sum, err := h.routes.OptimalRoute(c.Request.Context(), origin, dest, waypoints)
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	return sum, true
}

func (h *NavigationHandler) Route(c *gin.Context) {
	sum, ok := h.plan(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"routes":                 sum.Routes,
		"best_route_index":       sum.BestRouteIndex,
		"estimated_arrival_time": sum.EstimatedArrivalTime,
		"summary": gin.H{
			"total_distance": sum.TotalDistance,
			"total_duration": sum.TotalDuration,
		},
	})
}

func (h *NavigationHandler) Estimate(c *gin.Context) {
	sum, ok := h.plan(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"duration":               sum.TotalDuration,
		"distance":               sum.TotalDistance,
		"estimated_arrival_time": sum.EstimatedArrivalTime,
	})
}
