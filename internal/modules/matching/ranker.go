// README: Ranks available drivers for a passenger by weighted score.
package matching

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ridematch/internal/apperr"
	"ridematch/internal/config"
	"ridematch/internal/geo"
	"ridematch/internal/logger"
	"ridematch/internal/modules/profile"
	"ridematch/internal/observability"
)

type Ranker struct {
	drivers profile.DriverStore
	rides   RideCounter
	oracle  TrafficOracle
	scorer  *Scorer
	cfg     config.MatchingConfig
	log     logger.ILogger
	now     func() time.Time
}

// NewRanker wires a ranker. oracle may be nil, in which case every driver gets the
// neutral traffic score.
func NewRanker(drivers profile.DriverStore, rides RideCounter, oracle TrafficOracle, scorer *Scorer, cfg config.MatchingConfig, log logger.ILogger) *Ranker {
	if cfg.ScoringWorkers <= 0 {
		cfg.ScoringWorkers = 1
	}
	return &Ranker{
		drivers: drivers,
		rides:   rides,
		oracle:  oracle,
		scorer:  scorer,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Rank returns the available, located drivers best first. The sequence can be
// ranged over once; later passes yield nothing.
func (r *Ranker) Rank(ctx context.Context, p profile.Passenger) (iter.Seq[profile.Driver], error) {
	pool, err := r.pool(ctx)
	if err != nil {
		return nil, err
	}
	return r.RankPool(ctx, p, pool)
}

// RankPool is Rank over a pool the caller already loaded.
func (r *Ranker) RankPool(ctx context.Context, p profile.Passenger, pool []profile.Driver) (iter.Seq[profile.Driver], error) {
	candidates, err := r.ScorePool(ctx, p, pool)
	if err != nil {
		return nil, err
	}
	var used atomic.Bool
	return func(yield func(profile.Driver) bool) {
		if used.Swap(true) {
			return
		}
		for _, c := range candidates {
			if !yield(c.Driver) {
				return
			}
		}
	}, nil
}

// RankCandidates scores every available driver with a location against the
// passenger's pickup. Drivers that cannot be scored are left out.
func (r *Ranker) RankCandidates(ctx context.Context, p profile.Passenger) ([]Candidate, error) {
	pool, err := r.pool(ctx)
	if err != nil {
		return nil, err
	}
	return r.ScorePool(ctx, p, pool)
}

func (r *Ranker) pool(ctx context.Context) ([]profile.Driver, error) {
	pool, err := r.drivers.FindAvailableWithLocation(ctx)
	if err != nil {
		return nil, fmt.Errorf("load driver pool: %w", err)
	}
	return pool, nil
}

// ScorePool scores and sorts the given drivers, best first.
func (r *Ranker) ScorePool(ctx context.Context, p profile.Passenger, pool []profile.Driver) ([]Candidate, error) {
	if p.Pickup == nil {
		return nil, fmt.Errorf("%w: passenger %s has no pickup location", apperr.ErrInvalidArgument, p.ID)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	since := r.now().Add(-r.cfg.FairnessWindow)
	scored := make([]*Candidate, len(pool))

	var g errgroup.Group
	g.SetLimit(r.cfg.ScoringWorkers)
	for i, d := range pool {
		g.Go(func() error {
			c, err := r.score(ctx, d, p, since)
			if err != nil {
				observability.CandidatesDropped.WithLabelValues(dropReason(err)).Inc()
				r.log.Warning("dropping candidate",
					logger.String("driver_id", string(d.ID)),
					logger.String("passenger_id", string(p.ID)),
					logger.Error(err),
				)
				return nil
			}
			scored[i] = c
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(scored))
	for _, c := range scored {
		if c != nil {
			out = append(out, *c)
		}
	}
	slices.SortStableFunc(out, func(a, b Candidate) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Driver.ID, b.Driver.ID)
	})
	return out, nil
}

func (r *Ranker) score(ctx context.Context, d profile.Driver, p profile.Passenger, since time.Time) (*Candidate, error) {
	if d.Location == nil {
		return nil, fmt.Errorf("%w: driver %s has no location", ErrUnscorable, d.ID)
	}
	recent, err := r.rides.CountByDriverSince(ctx, d.ID, since)
	if err != nil {
		return nil, fmt.Errorf("count recent rides: %w", err)
	}
	km, err := geo.DistanceKm(*d.Location, *p.Pickup)
	if err != nil {
		return nil, err
	}
	total, err := r.scorer.Score(d, p, r.traffic(ctx, d, p), recent)
	if err != nil {
		return nil, err
	}
	return &Candidate{Driver: d, Score: total, DistanceKm: km}, nil
}

// traffic asks the oracle about the driver's route to pickup, bounded by
// OracleTimeout. Any failure yields NeutralTraffic.
func (r *Ranker) traffic(ctx context.Context, d profile.Driver, p profile.Passenger) float64 {
	if r.oracle == nil {
		return NeutralTraffic
	}
	octx := ctx
	if r.cfg.OracleTimeout > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, r.cfg.OracleTimeout)
		defer cancel()
	}
	v, err := r.oracle.Score(octx, *d.Location, *p.Pickup)
	if err != nil {
		observability.OracleFallbacks.Inc()
		r.log.Debug("traffic oracle fallback",
			logger.String("driver_id", string(d.ID)),
			logger.Error(err),
		)
		return NeutralTraffic
	}
	return v
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		return "invalid_input"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "store_error"
	}
}
