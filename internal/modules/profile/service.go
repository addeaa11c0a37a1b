// README: Profile service; driver availability, location reports and own-profile lookup.
package profile

import (
	"context"
	"fmt"

	"ridematch/internal/geo"
	"ridematch/internal/logger"
	"ridematch/internal/types"
)

type Service struct {
	drivers    DriverStore
	passengers PassengerStore
	log        logger.ILogger
}

func NewService(drivers DriverStore, passengers PassengerStore, log logger.ILogger) *Service {
	return &Service{drivers: drivers, passengers: passengers, log: log}
}

func (s *Service) DriverByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	return s.drivers.GetByUser(ctx, userID)
}

func (s *Service) PassengerByUser(ctx context.Context, userID types.ID) (*Passenger, error) {
	return s.passengers.GetByUser(ctx, userID)
}

// ToggleAvailability flips the caller's driver availability and returns the saved profile.
func (s *Service) ToggleAvailability(ctx context.Context, caller types.Caller) (*Driver, error) {
	d, err := s.drivers.ToggleAvailability(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	s.log.Info("driver availability changed",
		logger.String("driver_id", string(d.ID)),
		logger.Bool("available", d.Available),
	)
	return d, nil
}

// UpdateLocation records the caller's current position. Both coordinates are required.
func (s *Service) UpdateLocation(ctx context.Context, caller types.Caller, loc types.Location) (*Driver, error) {
	p, err := loc.Point()
	if err != nil {
		return nil, err
	}
	if err := geo.Validate(p); err != nil {
		return nil, fmt.Errorf("update location: %w", err)
	}
	return s.drivers.SetLocation(ctx, caller.UserID, p)
}
