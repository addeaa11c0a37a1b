// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ridematch/internal/http/handlers"
	"ridematch/internal/http/middleware"
	"ridematch/internal/infra"
	"ridematch/internal/logger"
	"ridematch/internal/modules/profile"
	"ridematch/internal/modules/ride"
)

type ServerDeps struct {
	Ride    *ride.Service
	Profile *profile.Service
	// Routes is optional; navigation endpoints are only mounted when set.
	Routes   handlers.RoutePlanner
	Verifier infra.TokenVerifier
	Log      logger.ILogger
}

type Server struct {
	ride     *handlers.RideHandler
	profile  *handlers.ProfileHandler
	nav      *handlers.NavigationHandler
	verifier infra.TokenVerifier
	log      logger.ILogger
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		ride:     handlers.NewRideHandler(deps.Ride),
		profile:  handlers.NewProfileHandler(deps.Profile),
		verifier: deps.Verifier,
		log:      deps.Log,
	}
	if deps.Routes != nil {
		s.nav = handlers.NewNavigationHandler(deps.Routes)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.Logging(s.log))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.nav != nil {
		nav := r.Group("/api/navigation")
		nav.POST("/route", s.nav.Route)
		nav.POST("/estimate", s.nav.Estimate)
	}

	api := r.Group("/api", middleware.Auth(s.verifier))
	api.POST("/matches", s.ride.CreateMatch)
	api.GET("/ride-requests", s.ride.MyOffers)
	api.POST("/ride-requests/:id/respond", s.ride.Respond)
	api.POST("/rides/:id/status", s.ride.SetStatus)
	api.GET("/rides/:id/offers", s.ride.Offers)
	api.POST("/rides/:id/expire-offers", s.ride.ExpireOffers)

	api.GET("/drivers/me", s.profile.DriverMe)
	api.POST("/drivers/me/availability", s.profile.ToggleAvailability)
	api.POST("/drivers/me/location", s.profile.UpdateLocation)
	api.GET("/passengers/me", s.profile.PassengerMe)
	return r
}
