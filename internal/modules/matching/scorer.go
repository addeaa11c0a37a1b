package matching

import (
	"fmt"
	"math"

	"ridematch/internal/apperr"
	"ridematch/internal/geo"
	"ridematch/internal/modules/profile"
)

const (
	// distances at or beyond this get no distance credit
	maxDistanceKm = 20.0
	maxRating     = 5.0
	// rides in the fairness window that fully exhaust the fairness credit
	fairnessRideCap = 10.0
	// NeutralTraffic stands in when the oracle cannot answer.
	NeutralTraffic = 0.5
)

var ErrUnscorable = fmt.Errorf("%w: candidate cannot be scored", apperr.ErrInvalidArgument)

type Scorer struct {
	weights Weights
}

func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Score is the weighted sum of Components, in [0,1].
func (s *Scorer) Score(d profile.Driver, p profile.Passenger, trafficScore float64, recentRides int) (float64, error) {
	c, err := s.Components(d, p, trafficScore, recentRides)
	if err != nil {
		return 0, err
	}
	w := s.weights
	total := w.Distance*c.Distance +
		w.Traffic*c.Traffic +
		w.Rating*c.Rating +
		w.Preferences*c.Preferences +
		w.Fairness*c.Fairness
	return clamp01(total), nil
}

func (s *Scorer) Components(d profile.Driver, p profile.Passenger, trafficScore float64, recentRides int) (Components, error) {
	if d.Location == nil {
		return Components{}, fmt.Errorf("%w: driver %s has no location", ErrUnscorable, d.ID)
	}
	if p.Pickup == nil {
		return Components{}, fmt.Errorf("%w: passenger %s has no pickup", ErrUnscorable, p.ID)
	}
	if math.IsNaN(d.Rating) || d.Rating < 0 || d.Rating > maxRating {
		return Components{}, fmt.Errorf("%w: driver %s has rating %v", ErrUnscorable, d.ID, d.Rating)
	}
	km, err := geo.DistanceKm(*d.Location, *p.Pickup)
	if err != nil {
		return Components{}, fmt.Errorf("driver %s: %w", d.ID, err)
	}
	if math.IsNaN(trafficScore) {
		trafficScore = NeutralTraffic
	}
	return Components{
		Distance:    DistanceScore(km),
		Traffic:     clamp01(trafficScore),
		Rating:      d.Rating / maxRating,
		Preferences: PreferenceScore(d.Preferences, p.Preferences),
		Fairness:    FairnessScore(recentRides),
	}, nil
}

func DistanceScore(km float64) float64 {
	return math.Max(0, 1-km/maxDistanceKm)
}

// PreferenceScore is the share of the passenger's preferences the driver matches
// exactly. A key the driver never set counts as a mismatch; no passenger preferences
// scores 0.
func PreferenceScore(driver, passenger map[string]bool) float64 {
	if len(passenger) == 0 {
		return 0
	}
	matched := 0
	for k, want := range passenger {
		if got, ok := driver[k]; ok && got == want {
			matched++
		}
	}
	return float64(matched) / float64(len(passenger))
}

func FairnessScore(recentRides int) float64 {
	return clamp01(1 - float64(recentRides)/fairnessRideCap)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
