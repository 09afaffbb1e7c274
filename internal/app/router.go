package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dronesim/internal/handler"
	"dronesim/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	OrderHandler      *handler.OrderHandler
	DroneHandler      *handler.DroneHandler
	SimulationHandler *handler.SimulationHandler
	PaymentHandler    *handler.PaymentHandler
	RealtimeHandler   *handler.RealtimeHandler
	RedisClient       *redis.Client
	NewRelicApp       *newrelic.Application
	Logger            logrus.FieldLogger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.Use(middleware.RequestLogger(deps.Logger))

	// Only triggers that start work are replayed on retry.
	idempotent := middleware.Idempotency(deps.RedisClient, deps.Logger)

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Order routes.
		orders := v1.Group("/orders")
		{
			orders.POST("", deps.OrderHandler.CreateOrder)
			orders.GET("", deps.OrderHandler.GetAll)
			orders.GET("/:id", deps.OrderHandler.GetOrder)
			orders.PATCH("/:id/status", deps.OrderHandler.UpdateStatus)
			orders.GET("/:id/route", deps.OrderHandler.GetRoute)
			orders.GET("/:id/tracking", deps.OrderHandler.GetTracking)
			orders.GET("/:id/ws", deps.RealtimeHandler.Subscribe)
		}

		// Drone routes.
		drones := v1.Group("/drones")
		{
			drones.POST("/register", deps.DroneHandler.Register)
			drones.GET("", deps.DroneHandler.GetAll)
			drones.GET("/:id", deps.DroneHandler.GetDrone)
		}

		// Simulation routes.
		simulations := v1.Group("/simulations")
		{
			simulations.POST("", idempotent, deps.SimulationHandler.Start)
			simulations.GET("", deps.SimulationHandler.GetActive)
			simulations.DELETE("/:order_id", deps.SimulationHandler.Stop)
		}

		// Payment routes.
		payments := v1.Group("/payments")
		{
			payments.POST("/callback", idempotent, deps.PaymentHandler.Callback)
		}
	}

	return router
}
