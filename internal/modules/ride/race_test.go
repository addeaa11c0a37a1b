// README: Concurrency tests for offer resolution against PostgreSQL (run with -race).
package ride

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridematch/internal/apperr"
	"ridematch/internal/config"
	"ridematch/internal/infra"
	"ridematch/internal/logger"
	"ridematch/internal/modules/matching"
	"ridematch/internal/modules/profile"
	"ridematch/internal/types"
)

func TestPGConcurrentAcceptSameRide(t *testing.T) {
	ctx := context.Background()
	svc, store := setupPGService(t, 6)

	res, err := svc.CreateMatch(ctx, MatchCommand{
		Caller:      types.Caller{UserID: "u-p1"},
		PassengerID: "p1",
		Pickup:      types.Point{Lat: 25.033, Lng: 121.565},
		Destination: types.Point{Lat: 25.0478, Lng: 121.5318},
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	if len(res.Offers) != 3 {
		t.Fatalf("expected 3 offers, got %d", len(res.Offers))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(res.Offers))
	for _, o := range res.Offers {
		wg.Add(1)
		go func(o *Request) {
			defer wg.Done()
			_, err := svc.Respond(ctx, RespondCommand{
				Caller:    types.Caller{UserID: "u-" + o.DriverID},
				RequestID: o.ID,
				Decision:  "ACCEPTED",
			})
			errs <- err
		}(o)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	r, err := store.GetRide(ctx, res.Ride.ID)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	if r.Status != StatusAccepted {
		t.Fatalf("unexpected final status: %s", r.Status)
	}
	offers, err := store.ListRequestsForRide(ctx, r.ID)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	for _, o := range offers {
		if o.Status == RequestAccepted && o.DriverID != r.DriverID {
			t.Fatalf("ride driver %s does not match accepted offer %s", r.DriverID, o.DriverID)
		}
		if o.Status == RequestPending {
			t.Fatalf("offer %s left pending", o.ID)
		}
	}
}

// Skips the ride lock and races the store directly; the conditional update alone
// must keep one winner.
func TestPGStoreResolveAcceptanceWithoutLock(t *testing.T) {
	ctx := context.Background()
	svc, store := setupPGService(t, 3)

	res, err := svc.CreateMatch(ctx, MatchCommand{
		Caller:      types.Caller{UserID: "u-p1"},
		PassengerID: "p1",
		Pickup:      types.Point{Lat: 25.033, Lng: 121.565},
		Destination: types.Point{Lat: 25.0478, Lng: 121.5318},
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(res.Offers))
	for _, o := range res.Offers {
		wg.Add(1)
		go func(o *Request) {
			defer wg.Done()
			_, err := store.ResolveAcceptance(ctx, Acceptance{RideID: o.RideID, RequestID: o.ID, DriverID: o.DriverID, At: time.Now()})
			errs <- err
		}(o)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrAlreadyResolved) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
}

func TestPGCreateRideRejectsDuplicateOffer(t *testing.T) {
	ctx := context.Background()
	_, store := setupPGService(t, 1)
	now := time.Now()
	r := &Ride{ID: "r-dup", DriverID: "d0", PassengerID: "p1", Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	offers := []*Request{
		{ID: "q1", RideID: r.ID, DriverID: "d0", Status: RequestPending, CreatedAt: now, UpdatedAt: now},
		{ID: "q2", RideID: r.ID, DriverID: "d0", Status: RequestPending, CreatedAt: now, UpdatedAt: now},
	}
	if err := store.CreateRide(ctx, r, offers); !errors.Is(err, ErrDuplicateOffer) {
		t.Fatalf("expected duplicate offer, got %v", err)
	}
	if _, err := store.GetRide(ctx, r.ID); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("ride must not persist after a failed create, got %v", err)
	}
}

func TestPGDriverSelfUpdatesDoNotClobber(t *testing.T) {
	ctx := context.Background()
	_, _ = setupPGService(t, 1)
	db := pgPool(t)
	profiles := profile.NewService(profile.NewStore(db).Drivers(), profile.NewStore(db).Passengers(), logger.NewNop())
	caller := types.Caller{UserID: "u-d0"}
	lat, lng := 25.05, 121.57

	const rounds = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := profiles.ToggleAvailability(ctx, caller)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := profiles.UpdateLocation(ctx, caller, types.Location{Latitude: &lat, Longitude: &lng})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	d, err := profiles.DriverByUser(ctx, caller.UserID)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if !d.Available {
		t.Fatalf("a toggle was lost: driver ended unavailable")
	}
	if d.Location == nil || d.Location.Lat != lat || d.Location.Lng != lng {
		t.Fatalf("location lost: %+v", d.Location)
	}
}

func pgPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	db, err := pgxpool.New(context.Background(), os.Getenv("RIDEMATCH_TEST_DSN"))
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupPGService(t *testing.T, drivers int) (*Service, *PGStore) {
	t.Helper()

	dsn := os.Getenv("RIDEMATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("RIDEMATCH_TEST_DSN not set; skipping DB-backed race tests")
	}

	root, err := repoRoot()
	if err != nil {
		t.Fatalf("repo root: %v", err)
	}
	if err := infra.Migrate(dsn, filepath.Join(root, "migrations")); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(ctx, "TRUNCATE TABLE ride_requests, rides, passengers, drivers"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	profiles := profile.NewStore(db)
	if err := profiles.Passengers().Save(ctx, &profile.Passenger{ID: "p1", UserID: "u-p1"}); err != nil {
		t.Fatalf("seed passenger: %v", err)
	}
	for i := 0; i < drivers; i++ {
		loc := types.Point{Lat: 25.03 + float64(i)*0.01, Lng: 121.56}
		id := types.ID(fmt.Sprintf("d%d", i))
		if err := profiles.Drivers().Save(ctx, &profile.Driver{
			ID: id, UserID: "u-" + id, Location: &loc, Rating: profile.DefaultRating, Available: true,
		}); err != nil {
			t.Fatalf("seed driver: %v", err)
		}
	}

	store := NewStore(db)
	scorer, err := matching.NewScorer(matching.DefaultWeights)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultMatching()
	svc := NewService(ServiceDeps{
		Store:      store,
		Drivers:    profiles.Drivers(),
		Passengers: profiles.Passengers(),
		Ranker:     matching.NewRanker(profiles.Drivers(), store, nil, scorer, cfg, logger.NewNop()),
		Config:     cfg,
		Log:        logger.NewNop(),
	})
	return svc, store
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}
