package maps

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"googlemaps.github.io/maps"

	"ridematch/internal/apperr"
	"ridematch/internal/logger"
	"ridematch/internal/types"
)

type fakeMatrix struct {
	resp *maps.DistanceMatrixResponse
	err  error
	last *maps.DistanceMatrixRequest
}

func (f *fakeMatrix) DistanceMatrix(_ context.Context, r *maps.DistanceMatrixRequest) (*maps.DistanceMatrixResponse, error) {
	f.last = r
	return f.resp, f.err
}

func matrixOf(el *maps.DistanceMatrixElement) *maps.DistanceMatrixResponse {
	return &maps.DistanceMatrixResponse{Rows: []maps.DistanceMatrixElementsRow{{Elements: []*maps.DistanceMatrixElement{el}}}}
}

var (
	a = types.Point{Lat: 25.033, Lng: 121.565}
	b = types.Point{Lat: 25.047, Lng: 121.531}
)

func TestTrafficOracle_Score(t *testing.T) {
	tests := []struct {
		name    string
		client  *fakeMatrix
		want    float64
		wantErr bool
	}{
		{
			name:   "heavy traffic halves the score",
			client: &fakeMatrix{resp: matrixOf(&maps.DistanceMatrixElement{Status: "OK", Duration: 10 * time.Minute, DurationInTraffic: 20 * time.Minute})},
			want:   0.5,
		},
		{
			name:   "faster than free flow clamps to one",
			client: &fakeMatrix{resp: matrixOf(&maps.DistanceMatrixElement{Status: "OK", Duration: 10 * time.Minute, DurationInTraffic: 8 * time.Minute})},
			want:   1,
		},
		{
			name:   "no traffic duration",
			client: &fakeMatrix{resp: matrixOf(&maps.DistanceMatrixElement{Status: "OK", Duration: 10 * time.Minute})},
			want:   1,
		},
		{name: "api error", client: &fakeMatrix{err: errors.New("quota")}, wantErr: true},
		{name: "zero results", client: &fakeMatrix{resp: matrixOf(&maps.DistanceMatrixElement{Status: "ZERO_RESULTS"})}, wantErr: true},
		{name: "empty matrix", client: &fakeMatrix{resp: &maps.DistanceMatrixResponse{}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &TrafficOracle{client: tt.client}
			got, err := o.Score(context.Background(), a, b)
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrOracleUnavailable) {
					t.Fatalf("expected oracle unavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("score: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			if tt.client.last.DepartureTime != "now" {
				t.Fatalf("expected departure_time=now, got %q", tt.client.last.DepartureTime)
			}
		})
	}
}

type fakeDirections struct {
	routes []maps.Route
	err    error
	last   *maps.DirectionsRequest
}

func (f *fakeDirections) Directions(_ context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error) {
	f.last = r
	return f.routes, nil, f.err
}

func TestOptimalRoute_Summary(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	client := &fakeDirections{routes: []maps.Route{
		{Summary: "main", Legs: []*maps.Leg{
			{Distance: maps.Distance{Meters: 1200}, Duration: 4 * time.Minute},
			{Distance: maps.Distance{Meters: 3300}, Duration: 61 * time.Minute},
		}},
		{Summary: "alt", Legs: []*maps.Leg{{Distance: maps.Distance{Meters: 9000}, Duration: time.Hour}}},
	}}
	s := &RouteService{client: client, now: func() time.Time { return now }}

	sum, err := s.OptimalRoute(context.Background(), a, b, []types.Point{{Lat: 25.04, Lng: 121.55}})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !client.last.Alternatives || len(client.last.Waypoints) != 1 {
		t.Fatalf("request missing alternatives or waypoints: %+v", client.last)
	}
	if len(sum.Routes) != 2 || sum.BestRouteIndex != 0 {
		t.Fatalf("unexpected routes: %d best=%d", len(sum.Routes), sum.BestRouteIndex)
	}
	if sum.TotalDistance.Value != 4500 || sum.TotalDistance.Text != "4.5 km" {
		t.Fatalf("unexpected distance: %+v", sum.TotalDistance)
	}
	if sum.TotalDuration.Value != 65*60 || sum.TotalDuration.Text != "1 hour 5 mins" {
		t.Fatalf("unexpected duration: %+v", sum.TotalDuration)
	}
	if !sum.EstimatedArrivalTime.Equal(now.Add(65 * time.Minute)) {
		t.Fatalf("unexpected arrival: %v", sum.EstimatedArrivalTime)
	}
}

func TestOptimalRoute_NoRoute(t *testing.T) {
	s := &RouteService{client: &fakeDirections{}, now: time.Now}
	if _, err := s.OptimalRoute(context.Background(), a, b, nil); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected no route, got %v", err)
	}
	s = &RouteService{client: &fakeDirections{err: errors.New("denied")}, now: time.Now}
	if _, err := s.OptimalRoute(context.Background(), a, b, nil); !errors.Is(err, apperr.ErrOracleUnavailable) {
		t.Fatalf("expected oracle unavailable, got %v", err)
	}
}

func TestFormatting(t *testing.T) {
	distances := map[int64]string{0: "0 m", 999: "999 m", 1000: "1.0 km", 12345: "12.3 km"}
	for m, want := range distances {
		if got := formatDistance(m); got != want {
			t.Errorf("formatDistance(%d) = %q, want %q", m, got, want)
		}
	}
	durations := map[int64]string{1: "1 sec", 45: "45 secs", 60: "1 min", 150: "2 mins", 3600: "1 hour 0 min", 7320: "2 hours 2 mins"}
	for s, want := range durations {
		if got := formatDuration(s); got != want {
			t.Errorf("formatDuration(%d) = %q, want %q", s, got, want)
		}
	}
}

type countingScorer struct {
	calls int
	score float64
}

func (c *countingScorer) Score(context.Context, types.Point, types.Point) (float64, error) {
	c.calls++
	return c.score, nil
}

func TestCachedOracle(t *testing.T) {
	addr := os.Getenv("RIDEMATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RIDEMATCH_TEST_REDIS_ADDR not set; skipping redis cache test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	origin := types.Point{Lat: float64(time.Now().UnixNano()%80000) / 1000, Lng: 10}
	_ = rdb.Del(ctx, trafficKey(origin, b)).Err()

	next := &countingScorer{score: 0.75}
	c := NewCachedOracle(next, rdb, time.Minute, logger.NewNop())
	for i := 0; i < 3; i++ {
		got, err := c.Score(ctx, origin, b)
		if err != nil {
			t.Fatalf("score: %v", err)
		}
		if got != 0.75 {
			t.Fatalf("got %v", got)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", next.calls)
	}
}
