// README: Scoring weights, candidates and the collaborators the ranker depends on.
package matching

import (
	"context"
	"fmt"
	"math"
	"time"

	"ridematch/internal/apperr"
	"ridematch/internal/modules/profile"
	"ridematch/internal/types"
)

// Weights of the five scoring factors. A valid set is non-negative and sums to 1.
type Weights struct {
	Distance    float64
	Traffic     float64
	Rating      float64
	Preferences float64
	Fairness    float64
}

var DefaultWeights = Weights{
	Distance:    0.25,
	Traffic:     0.20,
	Rating:      0.20,
	Preferences: 0.25,
	Fairness:    0.10,
}

var ErrInvalidWeights = fmt.Errorf("%w: scoring weights", apperr.ErrInvalidArgument)

func (w Weights) Validate() error {
	parts := []float64{w.Distance, w.Traffic, w.Rating, w.Preferences, w.Fairness}
	sum := 0.0
	for _, p := range parts {
		if p < 0 || math.IsNaN(p) {
			return fmt.Errorf("%w: negative or NaN weight %v", ErrInvalidWeights, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("%w: weights sum to %v", ErrInvalidWeights, sum)
	}
	return nil
}

// Components are the per-factor scores of one driver, each in [0,1].
type Components struct {
	Distance    float64
	Traffic     float64
	Rating      float64
	Preferences float64
	Fairness    float64
}

type Candidate struct {
	Driver     profile.Driver
	Score      float64
	DistanceKm float64
}

// TrafficOracle rates road conditions between two points, 1 being free-flowing.
// Failures wrap apperr.ErrOracleUnavailable.
type TrafficOracle interface {
	Score(ctx context.Context, origin, destination types.Point) (float64, error)
}

// RideCounter reports how many rides a driver was primary driver on since a moment.
type RideCounter interface {
	CountByDriverSince(ctx context.Context, driverID types.ID, since time.Time) (int, error)
}
