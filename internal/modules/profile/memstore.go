package profile

import (
	"context"
	"slices"
	"strings"
	"sync"

	"ridematch/internal/types"
)

// MemoryStore keeps profiles in process. Used by tests and single-node runs
// without a database.
type MemoryStore struct {
	mu         sync.RWMutex
	drivers    map[types.ID]Driver
	passengers map[types.ID]Passenger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drivers:    make(map[types.ID]Driver),
		passengers: make(map[types.ID]Passenger),
	}
}

func (m *MemoryStore) Drivers() DriverStore       { return memDrivers{m} }
func (m *MemoryStore) Passengers() PassengerStore { return memPassengers{m} }

type memDrivers struct{ *MemoryStore }

func (m memDrivers) FindAvailable(_ context.Context) ([]Driver, error) {
	return m.filter(func(d Driver) bool { return d.Available }), nil
}

func (m memDrivers) FindAvailableWithLocation(_ context.Context) ([]Driver, error) {
	return m.filter(func(d Driver) bool { return d.Available && d.Location != nil }), nil
}

func (m memDrivers) filter(keep func(Driver) bool) []Driver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Driver
	for _, d := range m.drivers {
		if keep(d) {
			out = append(out, d.clone())
		}
	}
	slices.SortFunc(out, func(a, b Driver) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

func (m memDrivers) Get(_ context.Context, id types.ID) (*Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrDriverNotFound
	}
	d = d.clone()
	return &d, nil
}

func (m memDrivers) GetByUser(_ context.Context, userID types.ID) (*Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if d.UserID == userID {
			d = d.clone()
			return &d, nil
		}
	}
	return nil, ErrDriverNotFound
}

func (m memDrivers) Save(_ context.Context, d *Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d.clone()
	return nil
}

func (m memDrivers) ToggleAvailability(_ context.Context, userID types.ID) (*Driver, error) {
	return m.update(userID, func(d *Driver) { d.Available = !d.Available })
}

func (m memDrivers) SetLocation(_ context.Context, userID types.ID, p types.Point) (*Driver, error) {
	return m.update(userID, func(d *Driver) { d.Location = &p })
}

func (m memDrivers) update(userID types.ID, apply func(*Driver)) (*Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, d := range m.drivers {
		if d.UserID != userID {
			continue
		}
		d = d.clone()
		apply(&d)
		m.drivers[id] = d
		out := d.clone()
		return &out, nil
	}
	return nil, ErrDriverNotFound
}

type memPassengers struct{ *MemoryStore }

func (m memPassengers) Get(_ context.Context, id types.ID) (*Passenger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.passengers[id]
	if !ok {
		return nil, ErrPassengerNotFound
	}
	p = p.clone()
	return &p, nil
}

func (m memPassengers) GetByUser(_ context.Context, userID types.ID) (*Passenger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.passengers {
		if p.UserID == userID {
			p = p.clone()
			return &p, nil
		}
	}
	return nil, ErrPassengerNotFound
}

func (m memPassengers) Save(_ context.Context, p *Passenger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passengers[p.ID] = p.clone()
	return nil
}
