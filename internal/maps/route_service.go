package maps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"ridematch/internal/apperr"
	"ridematch/internal/types"
)

var ErrNoRoute = fmt.Errorf("%w: no route found", apperr.ErrNotFound)

// RouteService handles interactions with the Google Directions API.
type RouteService struct {
	client directionsClient
	now    func() time.Time
}

func NewRouteService(client *maps.Client) *RouteService {
	return &RouteService{client: client, now: time.Now}
}

type Measure struct {
	Text  string `json:"text"`
	Value int64  `json:"value"`
}

type RouteSummary struct {
	Routes               []maps.Route `json:"routes"`
	BestRouteIndex       int          `json:"best_route_index"`
	EstimatedArrivalTime time.Time    `json:"estimated_arrival_time"`
	TotalDistance        Measure      `json:"total_distance"`
	TotalDuration        Measure      `json:"total_duration"`
}

// OptimalRoute asks for driving directions with alternatives. The provider's first
// route is treated as best; totals sum over its legs.
func (s *RouteService) OptimalRoute(ctx context.Context, origin, destination types.Point, waypoints []types.Point) (*RouteSummary, error) {
	r := &maps.DirectionsRequest{
		Origin:       origin.String(),
		Destination:  destination.String(),
		Mode:         maps.TravelModeDriving,
		Alternatives: true,
	}
	for _, w := range waypoints {
		r.Waypoints = append(r.Waypoints, w.String())
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%w: directions: %v", apperr.ErrOracleUnavailable, err)
	}
	if len(routes) == 0 {
		return nil, ErrNoRoute
	}

	const best = 0
	var meters int64
	var total time.Duration
	for _, leg := range routes[best].Legs {
		if leg == nil {
			continue
		}
		meters += int64(leg.Distance.Meters)
		total += leg.Duration
	}
	seconds := int64(total / time.Second)

	return &RouteSummary{
		Routes:               routes,
		BestRouteIndex:       best,
		EstimatedArrivalTime: s.now().Add(total),
		TotalDistance:        Measure{Text: formatDistance(meters), Value: meters},
		TotalDuration:        Measure{Text: formatDuration(seconds), Value: seconds},
	}, nil
}

func formatDistance(meters int64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.1f km", float64(meters)/1000)
	}
	return fmt.Sprintf("%d m", meters)
}

func formatDuration(seconds int64) string {
	hours, rem := seconds/3600, seconds%3600
	minutes, secs := rem/60, rem%60

	if hours == 0 && minutes == 0 {
		return fmt.Sprintf("%d sec%s", secs, plural(secs))
	}
	var b strings.Builder
	if hours > 0 {
		fmt.Fprintf(&b, "%d hour%s ", hours, plural(hours))
	}
	if minutes > 0 || hours > 0 {
		fmt.Fprintf(&b, "%d min%s", minutes, plural(minutes))
	}
	return strings.TrimSpace(b.String())
}

func plural(n int64) string {
	if n > 1 {
		return "s"
	}
	return ""
}
