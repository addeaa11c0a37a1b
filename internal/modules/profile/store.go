// README: Profile stores backed by PostgreSQL.
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridematch/internal/types"
)

type DriverStore interface {
	FindAvailable(ctx context.Context) ([]Driver, error)
	FindAvailableWithLocation(ctx context.Context) ([]Driver, error)
	Get(ctx context.Context, id types.ID) (*Driver, error)
	GetByUser(ctx context.Context, userID types.ID) (*Driver, error)
	Save(ctx context.Context, d *Driver) error
	// ToggleAvailability and SetLocation change one field of the user's driver in
	// place, so concurrent calls never overwrite each other's field.
	ToggleAvailability(ctx context.Context, userID types.ID) (*Driver, error)
	SetLocation(ctx context.Context, userID types.ID, p types.Point) (*Driver, error)
}

type PassengerStore interface {
	Get(ctx context.Context, id types.ID) (*Passenger, error)
	GetByUser(ctx context.Context, userID types.ID) (*Passenger, error)
	Save(ctx context.Context, p *Passenger) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Drivers and Passengers expose the two halves of the store under their interfaces.
func (s *Store) Drivers() DriverStore       { return driverStore{s} }
func (s *Store) Passengers() PassengerStore { return passengerStore{s} }

type driverStore struct{ *Store }

const driverColumns = `id, user_id, first_name, last_name, lat, lng, rating, preferences, available`

func (s driverStore) FindAvailable(ctx context.Context) ([]Driver, error) {
	return s.list(ctx, `SELECT `+driverColumns+` FROM drivers WHERE available ORDER BY id`)
}

func (s driverStore) FindAvailableWithLocation(ctx context.Context) ([]Driver, error) {
	return s.list(ctx, `
        SELECT `+driverColumns+` FROM drivers
        WHERE available AND lat IS NOT NULL AND lng IS NOT NULL
        ORDER BY id`)
}

func (s driverStore) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.one(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, string(id))
}

func (s driverStore) GetByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	return s.one(ctx, `SELECT `+driverColumns+` FROM drivers WHERE user_id = $1`, string(userID))
}

func (s driverStore) Save(ctx context.Context, d *Driver) error {
	var lat, lng *float64
	if d.Location != nil {
		lat, lng = &d.Location.Lat, &d.Location.Lng
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO drivers (`+driverColumns+`, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
        ON CONFLICT (id) DO UPDATE SET
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            lat = EXCLUDED.lat,
            lng = EXCLUDED.lng,
            rating = EXCLUDED.rating,
            preferences = EXCLUDED.preferences,
            available = EXCLUDED.available,
            updated_at = NOW()`,
		string(d.ID), string(d.UserID), d.FirstName, d.LastName,
		lat, lng, d.Rating, prefsOrEmpty(d.Preferences), d.Available,
	)
	if err != nil {
		return fmt.Errorf("save driver %s: %w", d.ID, err)
	}
	return nil
}

func (s driverStore) ToggleAvailability(ctx context.Context, userID types.ID) (*Driver, error) {
	return s.one(ctx, `
        UPDATE drivers SET available = NOT available, updated_at = NOW()
        WHERE user_id = $1
        RETURNING `+driverColumns, string(userID))
}

func (s driverStore) SetLocation(ctx context.Context, userID types.ID, p types.Point) (*Driver, error) {
	return s.one(ctx, `
        UPDATE drivers SET lat = $2, lng = $3, updated_at = NOW()
        WHERE user_id = $1
        RETURNING `+driverColumns, string(userID), p.Lat, p.Lng)
}

func (s driverStore) one(ctx context.Context, query string, args ...any) (*Driver, error) {
	d, err := scanDriver(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDriverNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s driverStore) list(ctx context.Context, query string) ([]Driver, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDriver(row pgx.Row) (Driver, error) {
	var d Driver
	var lat, lng *float64
	err := row.Scan(&d.ID, &d.UserID, &d.FirstName, &d.LastName, &lat, &lng, &d.Rating, &d.Preferences, &d.Available)
	if err != nil {
		return Driver{}, err
	}
	if lat != nil && lng != nil {
		d.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return d, nil
}

type passengerStore struct{ *Store }

const passengerColumns = `id, user_id, first_name, last_name, pickup_lat, pickup_lng, destination_lat, destination_lng, preferences`

func (s passengerStore) Get(ctx context.Context, id types.ID) (*Passenger, error) {
	return s.one(ctx, `SELECT `+passengerColumns+` FROM passengers WHERE id = $1`, string(id))
}

func (s passengerStore) GetByUser(ctx context.Context, userID types.ID) (*Passenger, error) {
	return s.one(ctx, `SELECT `+passengerColumns+` FROM passengers WHERE user_id = $1`, string(userID))
}

func (s passengerStore) Save(ctx context.Context, p *Passenger) error {
	var pLat, pLng, dLat, dLng *float64
	if p.Pickup != nil {
		pLat, pLng = &p.Pickup.Lat, &p.Pickup.Lng
	}
	if p.Destination != nil {
		dLat, dLng = &p.Destination.Lat, &p.Destination.Lng
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO passengers (`+passengerColumns+`, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
        ON CONFLICT (id) DO UPDATE SET
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            pickup_lat = EXCLUDED.pickup_lat,
            pickup_lng = EXCLUDED.pickup_lng,
            destination_lat = EXCLUDED.destination_lat,
            destination_lng = EXCLUDED.destination_lng,
            preferences = EXCLUDED.preferences,
            updated_at = NOW()`,
		string(p.ID), string(p.UserID), p.FirstName, p.LastName,
		pLat, pLng, dLat, dLng, prefsOrEmpty(p.Preferences),
	)
	if err != nil {
		return fmt.Errorf("save passenger %s: %w", p.ID, err)
	}
	return nil
}

func (s passengerStore) one(ctx context.Context, query string, args ...any) (*Passenger, error) {
	var p Passenger
	var pLat, pLng, dLat, dLng *float64
	err := s.db.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.UserID, &p.FirstName, &p.LastName,
		&pLat, &pLng, &dLat, &dLng, &p.Preferences,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPassengerNotFound
	}
	if err != nil {
		return nil, err
	}
	if pLat != nil && pLng != nil {
		p.Pickup = &types.Point{Lat: *pLat, Lng: *pLng}
	}
	if dLat != nil && dLng != nil {
		p.Destination = &types.Point{Lat: *dLat, Lng: *dLng}
	}
	return &p, nil
}

func prefsOrEmpty(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}
