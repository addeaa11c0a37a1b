// README: Entry point; loads config, wires stores and services, starts the HTTP server.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ridematch/internal/config"
	"ridematch/internal/events"
	httptransport "ridematch/internal/http"
	"ridematch/internal/http/handlers"
	"ridematch/internal/infra"
	"ridematch/internal/lock"
	"ridematch/internal/logger"
	"ridematch/internal/maps"
	"ridematch/internal/modules/matching"
	"ridematch/internal/modules/profile"
	"ridematch/internal/modules/ride"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	lg := logger.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("RIDEMATCH_FIREBASE_PROJECT_ID is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Fatalf("firebase init: %v", err)
	}

	if cfg.DB.RunMigrations {
		if err := infra.Migrate(cfg.DB.DSN, cfg.DB.Migrations); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}
	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	var (
		locker lock.Locker = lock.NewKeyedMutex()
		oracle matching.TrafficOracle
		routes handlers.RoutePlanner
	)

	if cfg.Maps.APIKey != "" {
		client, err := maps.NewClient(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps client: %v", err)
		}
		oracle = maps.NewTrafficOracle(client)
		routes = maps.NewRouteService(client)
	} else {
		lg.Warning("maps api key not set; traffic stays neutral and navigation is off")
	}

	// Redis makes the acceptance lock shared across replicas.
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			log.Fatal(err)
		}
		defer func() { _ = rdb.Close() }()
		locker = lock.NewRedisLocker(rdb, cfg.Matching.LockTTL)
		if oracle != nil {
			oracle = maps.NewCachedOracle(oracle, rdb, cfg.Matching.TrafficCacheTTL, lg)
		}
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = kp.Close() }()
		publisher = kp
	}

	profiles := profile.NewStore(dbPool)
	rides := ride.NewStore(dbPool)

	scorer, err := matching.NewScorer(matching.DefaultWeights)
	if err != nil {
		log.Fatal(err)
	}
	ranker := matching.NewRanker(profiles.Drivers(), rides, oracle, scorer, cfg.Matching, lg)

	rideSvc := ride.NewService(ride.ServiceDeps{
		Store:      rides,
		Drivers:    profiles.Drivers(),
		Passengers: profiles.Passengers(),
		Ranker:     ranker,
		Locker:     locker,
		Events:     publisher,
		Config:     cfg.Matching,
		Log:        lg,
	})
	profileSvc := profile.NewService(profiles.Drivers(), profiles.Passengers(), lg)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Ride:     rideSvc,
		Profile:  profileSvc,
		Routes:   routes,
		Verifier: verifier,
		Log:      lg,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("http shutdown", logger.Error(err))
		}
	}()

	lg.Info("http server listening", logger.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
