package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"ridematch/internal/apperr"
	"ridematch/internal/types"
)

// TrafficOracle scores congestion between two points from the Distance Matrix API
// as free-flow duration over duration in traffic, clamped to [0,1].
type TrafficOracle struct {
	client distanceMatrixClient
}

func NewTrafficOracle(client *maps.Client) *TrafficOracle {
	return &TrafficOracle{client: client}
}

func (o *TrafficOracle) Score(ctx context.Context, origin, destination types.Point) (float64, error) {
	resp, err := o.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:       []string{origin.String()},
		Destinations:  []string{destination.String()},
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
	})
	if err != nil {
		return 0, fmt.Errorf("%w: distance matrix: %v", apperr.ErrOracleUnavailable, err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 || resp.Rows[0].Elements[0] == nil {
		return 0, fmt.Errorf("%w: empty distance matrix", apperr.ErrOracleUnavailable)
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("%w: element status %s", apperr.ErrOracleUnavailable, el.Status)
	}
	if el.DurationInTraffic <= 0 {
		return 1, nil
	}
	score := el.Duration.Seconds() / el.DurationInTraffic.Seconds()
	return max(0, min(1, score)), nil
}
