// README: Ride service; dispatch, offer resolution and ride status updates.
package ride

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"time"

	"github.com/google/uuid"

	"ridematch/internal/apperr"
	"ridematch/internal/config"
	"ridematch/internal/events"
	"ridematch/internal/geo"
	"ridematch/internal/lock"
	"ridematch/internal/logger"
	"ridematch/internal/modules/profile"
	"ridematch/internal/observability"
	"ridematch/internal/types"
)

// Ranker orders an already loaded driver pool for a passenger.
type Ranker interface {
	RankPool(ctx context.Context, p profile.Passenger, pool []profile.Driver) (iter.Seq[profile.Driver], error)
}

type ServiceDeps struct {
	Store      Store
	Drivers    profile.DriverStore
	Passengers profile.PassengerStore
	Ranker     Ranker
	Locker     lock.Locker
	Events     events.Publisher
	Config     config.MatchingConfig
	Log        logger.ILogger
}

type Service struct {
	store      Store
	drivers    profile.DriverStore
	passengers profile.PassengerStore
	ranker     Ranker
	locker     lock.Locker
	events     events.Publisher
	cfg        config.MatchingConfig
	log        logger.ILogger
	now        func() time.Time
	newID      func() types.ID
}

func NewService(deps ServiceDeps) *Service {
	s := &Service{
		store:      deps.Store,
		drivers:    deps.Drivers,
		passengers: deps.Passengers,
		ranker:     deps.Ranker,
		locker:     deps.Locker,
		events:     deps.Events,
		cfg:        deps.Config,
		log:        deps.Log,
		now:        time.Now,
		newID:      func() types.ID { return types.ID(uuid.NewString()) },
	}
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.cfg.OfferFanout <= 0 {
		s.cfg.OfferFanout = config.DefaultMatching().OfferFanout
	}
	return s
}

type MatchCommand struct {
	Caller types.Caller
	// PassengerID is optional; empty means the caller's own passenger profile.
	PassengerID types.ID
	Pickup      types.Point
	Destination types.Point
	// Preferences replace the passenger's stored preferences when non-nil.
	Preferences map[string]bool
}

type MatchResult struct {
	Ride   *Ride
	Offers []*Request
}

// CreateMatch ranks drivers for the passenger and opens a PENDING ride offered to
// the top OfferFanout of them.
func (s *Service) CreateMatch(ctx context.Context, cmd MatchCommand) (*MatchResult, error) {
	start := s.now()
	res, err := s.createMatch(ctx, cmd)
	observability.MatchesTotal.WithLabelValues(matchOutcome(err)).Inc()
	if err == nil {
		observability.MatchLatency.Observe(s.now().Sub(start).Seconds())
	}
	return res, err
}

func (s *Service) createMatch(ctx context.Context, cmd MatchCommand) (*MatchResult, error) {
	if err := geo.Validate(cmd.Pickup); err != nil {
		return nil, fmt.Errorf("pickup: %w", err)
	}
	if err := geo.Validate(cmd.Destination); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}

	passenger, err := s.lookupPassenger(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if passenger.UserID != cmd.Caller.UserID && !cmd.Caller.Staff {
		return nil, ErrNotPassengerOwner
	}

	pickup, dest := cmd.Pickup, cmd.Destination
	passenger.Pickup = &pickup
	passenger.Destination = &dest
	if cmd.Preferences != nil {
		passenger.Preferences = maps.Clone(cmd.Preferences)
	}
	if err := s.passengers.Save(ctx, passenger); err != nil {
		return nil, fmt.Errorf("save passenger: %w", err)
	}

	located, err := s.drivers.FindAvailableWithLocation(ctx)
	if err != nil {
		return nil, err
	}
	if len(located) == 0 {
		// only the empty case needs the wider pool, to say why
		available, err := s.drivers.FindAvailable(ctx)
		if err != nil {
			return nil, err
		}
		if len(available) == 0 {
			return nil, ErrNoDriversAvailable
		}
		return nil, ErrNoLocatedDrivers
	}

	ranked, err := s.ranker.RankPool(ctx, *passenger, located)
	if err != nil {
		return nil, fmt.Errorf("rank drivers: %w", err)
	}
	chosen := make([]profile.Driver, 0, s.cfg.OfferFanout)
	for d := range ranked {
		chosen = append(chosen, d)
		if len(chosen) == s.cfg.OfferFanout {
			break
		}
	}
	if len(chosen) == 0 {
		return nil, ErrNoSuitableDrivers
	}

	now := s.now()
	r := &Ride{
		ID:          s.newID(),
		DriverID:    chosen[0].ID,
		PassengerID: passenger.ID,
		Pickup:      pickup,
		Destination: dest,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	offers := make([]*Request, 0, len(chosen))
	driverIDs := make([]types.ID, 0, len(chosen))
	for i, d := range chosen {
		offers = append(offers, &Request{
			ID:       s.newID(),
			RideID:   r.ID,
			DriverID: d.ID,
			Status:   RequestPending,
			// offers list in CreatedAt order, so stagger them to keep rank order
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		})
		driverIDs = append(driverIDs, d.ID)
	}
	if err := s.store.CreateRide(ctx, r, offers); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}

	s.log.Info("ride dispatched",
		logger.String("ride_id", string(r.ID)),
		logger.String("passenger_id", string(passenger.ID)),
		logger.Int("offers", len(offers)),
	)
	s.publish(ctx, events.Event{Type: events.RideCreated, RideID: r.ID, Status: string(r.Status), DriverIDs: driverIDs, At: now})
	return &MatchResult{Ride: r, Offers: offers}, nil
}

func (s *Service) lookupPassenger(ctx context.Context, cmd MatchCommand) (*profile.Passenger, error) {
	if cmd.PassengerID != "" {
		return s.passengers.Get(ctx, cmd.PassengerID)
	}
	return s.passengers.GetByUser(ctx, cmd.Caller.UserID)
}

type RespondCommand struct {
	Caller    types.Caller
	RequestID types.ID
	Decision  string
}

// Respond applies a driver's decision to an offer. Accepting assigns the ride and
// closes every other pending offer on it; only one acceptance per ride can succeed.
func (s *Service) Respond(ctx context.Context, cmd RespondCommand) (*Request, error) {
	decision, err := ParseDecision(cmd.Decision)
	if err != nil {
		return nil, err
	}
	req, err := s.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	driver, err := s.drivers.GetByUser(ctx, cmd.Caller.UserID)
	if err != nil {
		return nil, err
	}
	if driver.ID != req.DriverID {
		return nil, ErrNotOfferedDriver
	}

	var out *Request
	if decision == DecisionReject {
		out, err = s.reject(ctx, req)
	} else {
		out, err = s.accept(ctx, req)
	}
	observability.OfferResponses.WithLabelValues(string(decision), respondOutcome(err)).Inc()
	return out, err
}

func (s *Service) reject(ctx context.Context, req *Request) (*Request, error) {
	now := s.now()
	ok, err := s.store.TransitionRequest(ctx, req.ID, RequestPending, RequestRejected, now)
	if err != nil {
		return nil, err
	}
	cur, err := s.store.GetRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if cur.Status == RequestRejected {
			return cur, nil
		}
		return nil, fmt.Errorf("%w: request is %s", ErrAlreadyResolved, cur.Status)
	}
	s.publish(ctx, events.Event{Type: events.OfferResolved, RideID: cur.RideID, RequestID: cur.ID, DriverID: cur.DriverID, Status: string(cur.Status), At: now})
	return cur, nil
}

func (s *Service) accept(ctx context.Context, req *Request) (*Request, error) {
	release, err := s.locker.Acquire(ctx, rideLockKey(req.RideID))
	if err != nil {
		return nil, fmt.Errorf("lock ride %s: %w", req.RideID, err)
	}
	defer release()

	cur, err := s.store.GetRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, RequestAccepted) {
		return nil, fmt.Errorf("%w: request is %s", ErrAlreadyResolved, cur.Status)
	}
	r, err := s.store.GetRide(ctx, cur.RideID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, fmt.Errorf("%w: ride is %s", ErrAlreadyResolved, r.Status)
	}

	now := s.now()
	rejected, err := s.store.ResolveAcceptance(ctx, Acceptance{
		RideID:    r.ID,
		RequestID: cur.ID,
		DriverID:  cur.DriverID,
		At:        now,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			s.log.Info("accept lost race",
				logger.String("ride_id", string(r.ID)),
				logger.String("request_id", string(cur.ID)),
			)
		}
		return nil, err
	}

	cur.Status = RequestAccepted
	cur.UpdatedAt = now
	s.log.Info("ride accepted",
		logger.String("ride_id", string(r.ID)),
		logger.String("driver_id", string(cur.DriverID)),
		logger.Int("rejected_offers", len(rejected)),
	)
	s.publish(ctx, events.Event{Type: events.OfferResolved, RideID: r.ID, RequestID: cur.ID, DriverID: cur.DriverID, Status: string(RequestAccepted), At: now})
	return cur, nil
}

// SetStatus sets a ride's status. Any status may follow any other.
func (s *Service) SetStatus(ctx context.Context, rideID types.ID, status string) (*Ride, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	r, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	prev := r.Status
	r.Status = st
	r.UpdatedAt = s.now()
	if err := s.store.SaveRide(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info("ride status changed",
		logger.String("ride_id", string(r.ID)),
		logger.String("from", string(prev)),
		logger.String("to", string(st)),
	)
	s.publish(ctx, events.Event{Type: events.RideStatusChanged, RideID: r.ID, Status: string(st), At: r.UpdatedAt})
	return r, nil
}

func (s *Service) GetRide(ctx context.Context, id types.ID) (*Ride, error) {
	return s.store.GetRide(ctx, id)
}

// Offers lists every offer made for a ride in rank order. Only staff, the ride's
// passenger and drivers offered the ride may see them.
func (s *Service) Offers(ctx context.Context, caller types.Caller, rideID types.ID) ([]*Request, error) {
	r, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	offers, err := s.store.ListRequestsForRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if caller.Staff {
		return offers, nil
	}

	passenger, err := s.passengers.GetByUser(ctx, caller.UserID)
	switch {
	case err == nil && passenger.ID == r.PassengerID:
		return offers, nil
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	driver, err := s.drivers.GetByUser(ctx, caller.UserID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil, ErrNotRideParticipant
	case err != nil:
		return nil, err
	}
	for _, o := range offers {
		if o.DriverID == driver.ID {
			return offers, nil
		}
	}
	return nil, ErrNotRideParticipant
}

// MyOffers lists the offers made to the calling driver, oldest first.
func (s *Service) MyOffers(ctx context.Context, caller types.Caller) ([]*Request, error) {
	driver, err := s.drivers.GetByUser(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	return s.store.ListRequestsForDriver(ctx, driver.ID)
}

// ExpireOffers moves a ride's still-pending offers to EXPIRED and returns their IDs.
func (s *Service) ExpireOffers(ctx context.Context, rideID types.ID) ([]types.ID, error) {
	release, err := s.locker.Acquire(ctx, rideLockKey(rideID))
	if err != nil {
		return nil, fmt.Errorf("lock ride %s: %w", rideID, err)
	}
	defer release()

	pending, err := s.store.ListPendingForRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var expired []types.ID
	for _, req := range pending {
		ok, err := s.store.TransitionRequest(ctx, req.ID, RequestPending, RequestExpired, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired = append(expired, req.ID)
		}
	}
	if len(expired) > 0 {
		s.publish(ctx, events.Event{Type: events.OffersExpired, RideID: rideID, Status: string(RequestExpired), At: now})
	}
	return expired, nil
}

// publish never fails the caller; the state change has already committed.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warning("publish event failed",
			logger.String("type", string(e.Type)),
			logger.String("ride_id", string(e.RideID)),
			logger.Error(err),
		)
	}
}

func rideLockKey(id types.ID) string {
	return "ride:" + string(id)
}

func matchOutcome(err error) string {
	switch {
	case err == nil:
		return "dispatched"
	case errors.Is(err, ErrNoDriversAvailable), errors.Is(err, ErrNoLocatedDrivers), errors.Is(err, ErrNoSuitableDrivers):
		return "no_drivers"
	default:
		return "error"
	}
}

func respondOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyResolved):
		return "conflict"
	default:
		return "error"
	}
}
