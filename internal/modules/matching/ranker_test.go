package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"ridematch/internal/apperr"
	"ridematch/internal/config"
	"ridematch/internal/logger"
	"ridematch/internal/modules/profile"
	"ridematch/internal/types"
)

type stubRides struct {
	mu     sync.Mutex
	counts map[types.ID]int
	fail   map[types.ID]bool
}

func (s *stubRides) CountByDriverSince(_ context.Context, id types.ID, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[id] {
		return 0, errors.New("count failed")
	}
	return s.counts[id], nil
}

type stubOracle struct {
	score float64
	err   error
	block bool
	calls int
	mu    sync.Mutex
}

func (o *stubOracle) Score(ctx context.Context, _, _ types.Point) (float64, error) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
	if o.block {
		<-ctx.Done()
		return 0, fmt.Errorf("%w: %v", apperr.ErrOracleUnavailable, ctx.Err())
	}
	return o.score, o.err
}

func newTestRanker(t *testing.T, drivers []profile.Driver, rides *stubRides, oracle TrafficOracle) *Ranker {
	t.Helper()
	mem := profile.NewMemoryStore()
	for i := range drivers {
		if err := mem.Drivers().Save(context.Background(), &drivers[i]); err != nil {
			t.Fatal(err)
		}
	}
	if rides == nil {
		rides = &stubRides{}
	}
	scorer, err := NewScorer(DefaultWeights)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultMatching()
	cfg.OracleTimeout = 20 * time.Millisecond
	return NewRanker(mem.Drivers(), rides, oracle, scorer, cfg, logger.NewNop())
}

func collectIDs(t *testing.T, r *Ranker, p profile.Passenger) []types.ID {
	t.Helper()
	seq, err := r.Rank(context.Background(), p)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	var ids []types.ID
	for d := range seq {
		ids = append(ids, d.ID)
	}
	return ids
}

func passengerAt(lat, lng float64) profile.Passenger {
	return profile.Passenger{ID: "p1", UserID: "u-p1", Pickup: point(lat, lng)}
}

func TestRank_OrdersByDistanceWhenOtherwiseEqual(t *testing.T) {
	// roughly 1.1 km per 0.01 degree of latitude
	drivers := []profile.Driver{
		{ID: "a", Available: true, Rating: 5, Location: point(25.04, 121.5)},
		{ID: "b", Available: true, Rating: 5, Location: point(25.01, 121.5)},
		{ID: "c", Available: true, Rating: 5, Location: point(25.05, 121.5)},
		{ID: "d", Available: true, Rating: 5, Location: point(25.02, 121.5)},
		{ID: "e", Available: true, Rating: 5, Location: point(25.03, 121.5)},
	}
	r := newTestRanker(t, drivers, nil, nil)

	got := collectIDs(t, r, passengerAt(25.0, 121.5))
	want := []types.ID{"b", "d", "e", "a", "c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got order %v, want %v", got, want)
	}
}

func TestRank_TiesBrokenByDriverID(t *testing.T) {
	here := point(25.0, 121.5)
	drivers := []profile.Driver{
		{ID: "z", Available: true, Rating: 4, Location: here},
		{ID: "m", Available: true, Rating: 4, Location: here},
		{ID: "a", Available: true, Rating: 4, Location: here},
	}
	r := newTestRanker(t, drivers, nil, nil)
	got := collectIDs(t, r, passengerAt(25.0, 121.5))
	if fmt.Sprint(got) != fmt.Sprint([]types.ID{"a", "m", "z"}) {
		t.Fatalf("ties not broken by id: %v", got)
	}
}

func TestRank_SkipsUnavailableAndUnlocated(t *testing.T) {
	drivers := []profile.Driver{
		{ID: "on", Available: true, Rating: 5, Location: point(25.0, 121.5)},
		{ID: "off", Available: false, Rating: 5, Location: point(25.0, 121.5)},
		{ID: "nowhere", Available: true, Rating: 5},
	}
	r := newTestRanker(t, drivers, nil, nil)
	got := collectIDs(t, r, passengerAt(25.0, 121.5))
	if len(got) != 1 || got[0] != "on" {
		t.Fatalf("unexpected ranking: %v", got)
	}
}

func TestRank_EmptyPool(t *testing.T) {
	r := newTestRanker(t, nil, nil, nil)
	if got := collectIDs(t, r, passengerAt(0, 0)); len(got) != 0 {
		t.Fatalf("expected empty ranking, got %v", got)
	}
}

func TestRank_SequenceIsSingleUse(t *testing.T) {
	drivers := []profile.Driver{{ID: "a", Available: true, Rating: 5, Location: point(0, 0)}}
	r := newTestRanker(t, drivers, nil, nil)
	seq, err := r.Rank(context.Background(), passengerAt(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	first, second := 0, 0
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	if first != 1 || second != 0 {
		t.Fatalf("expected one pass of 1 driver, got %d then %d", first, second)
	}
}

func TestRank_DropsDriverWhoseScoringFails(t *testing.T) {
	drivers := []profile.Driver{
		{ID: "a", Available: true, Rating: 5, Location: point(25.0, 121.5)},
		{ID: "b", Available: true, Rating: 5, Location: point(25.01, 121.5)},
	}
	rides := &stubRides{fail: map[types.ID]bool{"a": true}}
	r := newTestRanker(t, drivers, rides, nil)
	got := collectIDs(t, r, passengerAt(25.0, 121.5))
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected only b, got %v", got)
	}
}

func TestRank_FairnessPenalisesBusyDrivers(t *testing.T) {
	here := point(25.0, 121.5)
	drivers := []profile.Driver{
		{ID: "a", Available: true, Rating: 5, Location: here},
		{ID: "b", Available: true, Rating: 5, Location: here},
	}
	rides := &stubRides{counts: map[types.ID]int{"a": 8}}
	r := newTestRanker(t, drivers, rides, nil)
	got := collectIDs(t, r, passengerAt(25.0, 121.5))
	if fmt.Sprint(got) != fmt.Sprint([]types.ID{"b", "a"}) {
		t.Fatalf("busy driver not ranked lower: %v", got)
	}
}

func TestRankCandidates_OracleFallback(t *testing.T) {
	drivers := []profile.Driver{{ID: "a", Available: true, Rating: 5, Location: point(25.0, 121.5)}}
	p := passengerAt(25.0, 121.5)
	scorer, _ := NewScorer(DefaultWeights)
	want, _ := scorer.Score(drivers[0], p, NeutralTraffic, 0)

	oracles := map[string]*stubOracle{
		"error":   {err: fmt.Errorf("%w: quota", apperr.ErrOracleUnavailable)},
		"timeout": {block: true},
	}
	for name, o := range oracles {
		t.Run(name, func(t *testing.T) {
			r := newTestRanker(t, drivers, nil, o)
			got, err := r.RankCandidates(context.Background(), p)
			if err != nil {
				t.Fatalf("rank: %v", err)
			}
			if len(got) != 1 || got[0].Score != want {
				t.Fatalf("expected neutral traffic score %v, got %+v", want, got)
			}
		})
	}
}

func TestRankCandidates_UsesOracleScore(t *testing.T) {
	drivers := []profile.Driver{{ID: "a", Available: true, Rating: 5, Location: point(25.0, 121.5)}}
	p := passengerAt(25.0, 121.5)
	o := &stubOracle{score: 1}
	r := newTestRanker(t, drivers, nil, o)
	got, err := r.RankCandidates(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	scorer, _ := NewScorer(DefaultWeights)
	want, _ := scorer.Score(drivers[0], p, 1, 0)
	if o.calls != 1 || got[0].Score != want {
		t.Fatalf("oracle not consulted: calls=%d score=%v want=%v", o.calls, got[0].Score, want)
	}
}

func TestRankCandidates_PassengerWithoutPickup(t *testing.T) {
	r := newTestRanker(t, nil, nil, nil)
	_, err := r.RankCandidates(context.Background(), profile.Passenger{ID: "p"})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRank_DropsDriverWithMalformedRating(t *testing.T) {
	here := point(25.0, 121.5)
	drivers := []profile.Driver{
		{ID: "a", Available: true, Rating: math.NaN(), Location: here},
		{ID: "b", Available: true, Rating: 4, Location: point(25.05, 121.5)},
		{ID: "c", Available: true, Rating: -3, Location: here},
		{ID: "d", Available: true, Rating: 9, Location: here},
	}
	r := newTestRanker(t, drivers, nil, nil)
	got := collectIDs(t, r, passengerAt(25.0, 121.5))
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected only b, got %v", got)
	}
}

func TestRankPool_ScoresOnlyTheGivenPool(t *testing.T) {
	stored := []profile.Driver{{ID: "stored", Available: true, Rating: 5, Location: point(25.0, 121.5)}}
	r := newTestRanker(t, stored, nil, nil)

	pool := []profile.Driver{
		{ID: "far", Available: true, Rating: 5, Location: point(25.05, 121.5)},
		{ID: "near", Available: true, Rating: 5, Location: point(25.01, 121.5)},
	}
	seq, err := r.RankPool(context.Background(), passengerAt(25.0, 121.5), pool)
	if err != nil {
		t.Fatal(err)
	}
	var got []types.ID
	for d := range seq {
		got = append(got, d.ID)
	}
	if fmt.Sprint(got) != fmt.Sprint([]types.ID{"near", "far"}) {
		t.Fatalf("unexpected ranking %v", got)
	}
}
