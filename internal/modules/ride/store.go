// README: Ride store backed by PostgreSQL; offer resolution runs in one transaction.
package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridematch/internal/types"
)

type Store interface {
	// CreateRide persists a ride together with its initial offers, atomically.
	CreateRide(ctx context.Context, r *Ride, offers []*Request) error
	GetRide(ctx context.Context, id types.ID) (*Ride, error)
	SaveRide(ctx context.Context, r *Ride) error
	CountByDriverSince(ctx context.Context, driverID types.ID, since time.Time) (int, error)

	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id types.ID) (*Request, error)
	SaveRequest(ctx context.Context, req *Request) error
	ListPendingForRide(ctx context.Context, rideID types.ID) ([]*Request, error)
	ListRequestsForRide(ctx context.Context, rideID types.ID) ([]*Request, error)
	ListRequestsForDriver(ctx context.Context, driverID types.ID) ([]*Request, error)
	// TransitionRequest moves a request from one status to another only if it is
	// still in from. It reports whether the row changed.
	TransitionRequest(ctx context.Context, id types.ID, from, to RequestStatus, at time.Time) (bool, error)
	// ResolveAcceptance accepts one offer, assigns the ride and rejects the ride's
	// other pending offers, or changes nothing. It fails with ErrAlreadyResolved when
	// the ride or the offer is no longer pending.
	ResolveAcceptance(ctx context.Context, a Acceptance) (rejected []types.ID, err error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const uniqueViolation = "23505"

func (s *PGStore) CreateRide(ctx context.Context, r *Ride, offers []*Request) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := insertRide(ctx, tx, r); err != nil {
			return err
		}
		for _, req := range offers {
			if err := insertRequest(ctx, tx, req); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertRide(ctx context.Context, q pgxQuerier, r *Ride) error {
	_, err := q.Exec(ctx, `
        INSERT INTO rides (
            id, driver_id, passenger_id,
            pickup_lat, pickup_lng, destination_lat, destination_lng,
            status, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(r.ID), string(r.DriverID), string(r.PassengerID),
		r.Pickup.Lat, r.Pickup.Lng, r.Destination.Lat, r.Destination.Lng,
		string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ride %s: %w", r.ID, err)
	}
	return nil
}

func insertRequest(ctx context.Context, q pgxQuerier, req *Request) error {
	_, err := q.Exec(ctx, `
        INSERT INTO ride_requests (id, ride_id, driver_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		string(req.ID), string(req.RideID), string(req.DriverID),
		string(req.Status), req.CreatedAt, req.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: ride %s driver %s", ErrDuplicateOffer, req.RideID, req.DriverID)
	}
	if err != nil {
		return fmt.Errorf("insert ride request %s: %w", req.ID, err)
	}
	return nil
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PGStore) GetRide(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, driver_id, passenger_id,
               pickup_lat, pickup_lng, destination_lat, destination_lng,
               status, created_at, updated_at
        FROM rides
        WHERE id = $1`, string(id),
	)
	var r Ride
	err := row.Scan(
		&r.ID, &r.DriverID, &r.PassengerID,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Destination.Lat, &r.Destination.Lng,
		&r.Status, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveRide writes the mutable fields of a ride; CreatedAt never changes.
func (s *PGStore) SaveRide(ctx context.Context, r *Ride) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET driver_id = $2, status = $3, updated_at = $4
        WHERE id = $1`,
		string(r.ID), string(r.DriverID), string(r.Status), r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRideNotFound
	}
	return nil
}

func (s *PGStore) CountByDriverSince(ctx context.Context, driverID types.ID, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM rides
        WHERE driver_id = $1 AND created_at >= $2`,
		string(driverID), since,
	).Scan(&n)
	return n, err
}

func (s *PGStore) CreateRequest(ctx context.Context, req *Request) error {
	return insertRequest(ctx, s.db, req)
}

func (s *PGStore) GetRequest(ctx context.Context, id types.ID) (*Request, error) {
	reqs, err := s.listRequests(ctx, `WHERE id = $1`, string(id))
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, ErrRequestNotFound
	}
	return reqs[0], nil
}

func (s *PGStore) SaveRequest(ctx context.Context, req *Request) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE ride_requests SET status = $2, updated_at = $3 WHERE id = $1`,
		string(req.ID), string(req.Status), req.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (s *PGStore) ListPendingForRide(ctx context.Context, rideID types.ID) ([]*Request, error) {
	return s.listRequests(ctx, `WHERE ride_id = $1 AND status = 'PENDING'`, string(rideID))
}

func (s *PGStore) ListRequestsForRide(ctx context.Context, rideID types.ID) ([]*Request, error) {
	return s.listRequests(ctx, `WHERE ride_id = $1`, string(rideID))
}

func (s *PGStore) ListRequestsForDriver(ctx context.Context, driverID types.ID) ([]*Request, error) {
	return s.listRequests(ctx, `WHERE driver_id = $1`, string(driverID))
}

func (s *PGStore) listRequests(ctx context.Context, where string, args ...any) ([]*Request, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, ride_id, driver_id, status, created_at, updated_at
        FROM ride_requests `+where+`
        ORDER BY created_at, id`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		var req Request
		if err := rows.Scan(&req.ID, &req.RideID, &req.DriverID, &req.Status, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &req)
	}
	return out, rows.Err()
}

func (s *PGStore) TransitionRequest(ctx context.Context, id types.ID, from, to RequestStatus, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE ride_requests
        SET status = $1, updated_at = $2
        WHERE id = $3 AND status = $4`,
		string(to), at, string(id), string(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) ResolveAcceptance(ctx context.Context, a Acceptance) ([]types.ID, error) {
	var rejected []types.ID
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		rejected = nil
		tag, err := tx.Exec(ctx, `
            UPDATE rides
            SET status = 'ACCEPTED', driver_id = $2, updated_at = $3
            WHERE id = $1 AND status = 'PENDING'`,
			string(a.RideID), string(a.DriverID), a.At,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ErrAlreadyResolved
		}

		tag, err = tx.Exec(ctx, `
            UPDATE ride_requests
            SET status = 'ACCEPTED', updated_at = $4
            WHERE id = $1 AND ride_id = $2 AND driver_id = $3 AND status = 'PENDING'`,
			string(a.RequestID), string(a.RideID), string(a.DriverID), a.At,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ErrAlreadyResolved
		}

		rows, err := tx.Query(ctx, `
            UPDATE ride_requests
            SET status = 'REJECTED', updated_at = $3
            WHERE ride_id = $1 AND id <> $2 AND status = 'PENDING'
            RETURNING id`,
			string(a.RideID), string(a.RequestID), a.At,
		)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		for _, id := range ids {
			rejected = append(rejected, types.ID(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}
