package ride

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"ridematch/internal/types"
)

type offerKey struct {
	ride   types.ID
	driver types.ID
}

// MemoryStore is an in-process Store. A single mutex makes every method atomic.
type MemoryStore struct {
	mu       sync.Mutex
	rides    map[types.ID]Ride
	requests map[types.ID]Request
	offers   map[offerKey]types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[types.ID]Ride),
		requests: make(map[types.ID]Request),
		offers:   make(map[offerKey]types.ID),
	}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *Ride, offers []*Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return fmt.Errorf("ride %s already exists", r.ID)
	}
	seen := make(map[types.ID]bool, len(offers))
	for _, req := range offers {
		if seen[req.DriverID] {
			return fmt.Errorf("%w: ride %s driver %s", ErrDuplicateOffer, r.ID, req.DriverID)
		}
		seen[req.DriverID] = true
	}
	m.rides[r.ID] = *r
	for _, req := range offers {
		m.putRequest(*req)
	}
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id types.ID) (*Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	return &r, nil
}

func (m *MemoryStore) SaveRide(_ context.Context, r *Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[r.ID]
	if !ok {
		return ErrRideNotFound
	}
	cur.DriverID = r.DriverID
	cur.Status = r.Status
	cur.UpdatedAt = r.UpdatedAt
	m.rides[r.ID] = cur
	return nil
}

func (m *MemoryStore) CountByDriverSince(_ context.Context, driverID types.ID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rides {
		if r.DriverID == driverID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateRequest(_ context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[req.RideID]; !ok {
		return ErrRideNotFound
	}
	if _, dup := m.offers[offerKey{req.RideID, req.DriverID}]; dup {
		return fmt.Errorf("%w: ride %s driver %s", ErrDuplicateOffer, req.RideID, req.DriverID)
	}
	m.putRequest(*req)
	return nil
}

func (m *MemoryStore) putRequest(req Request) {
	m.requests[req.ID] = req
	m.offers[offerKey{req.RideID, req.DriverID}] = req.ID
}

func (m *MemoryStore) GetRequest(_ context.Context, id types.ID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return &req, nil
}

func (m *MemoryStore) SaveRequest(_ context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[req.ID]
	if !ok {
		return ErrRequestNotFound
	}
	cur.Status = req.Status
	cur.UpdatedAt = req.UpdatedAt
	m.requests[req.ID] = cur
	return nil
}

func (m *MemoryStore) ListPendingForRide(_ context.Context, rideID types.ID) ([]*Request, error) {
	return m.list(func(r Request) bool { return r.RideID == rideID && r.Status == RequestPending }), nil
}

func (m *MemoryStore) ListRequestsForRide(_ context.Context, rideID types.ID) ([]*Request, error) {
	return m.list(func(r Request) bool { return r.RideID == rideID }), nil
}

func (m *MemoryStore) ListRequestsForDriver(_ context.Context, driverID types.ID) ([]*Request, error) {
	return m.list(func(r Request) bool { return r.DriverID == driverID }), nil
}

func (m *MemoryStore) list(keep func(Request) bool) []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, &r)
		}
	}
	slices.SortFunc(out, func(a, b *Request) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

func (m *MemoryStore) TransitionRequest(_ context.Context, id types.ID, from, to RequestStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return false, ErrRequestNotFound
	}
	if req.Status != from {
		return false, nil
	}
	req.Status = to
	req.UpdatedAt = at
	m.requests[id] = req
	return true, nil
}

func (m *MemoryStore) ResolveAcceptance(_ context.Context, a Acceptance) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rides[a.RideID]
	if !ok {
		return nil, ErrRideNotFound
	}
	req, ok := m.requests[a.RequestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if r.Status != StatusPending || req.Status != RequestPending || req.RideID != a.RideID || req.DriverID != a.DriverID {
		return nil, ErrAlreadyResolved
	}

	r.Status = StatusAccepted
	r.DriverID = a.DriverID
	r.UpdatedAt = a.At
	m.rides[r.ID] = r

	req.Status = RequestAccepted
	req.UpdatedAt = a.At
	m.requests[req.ID] = req

	var rejected []types.ID
	for id, other := range m.requests {
		if other.RideID != a.RideID || id == a.RequestID || other.Status != RequestPending {
			continue
		}
		other.Status = RequestRejected
		other.UpdatedAt = a.At
		m.requests[id] = other
		rejected = append(rejected, id)
	}
	slices.Sort(rejected)
	return rejected, nil
}
