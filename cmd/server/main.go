package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dronesim/internal/app"
	"dronesim/internal/config"
	"dronesim/internal/domain"
	"dronesim/internal/handler"
	"dronesim/internal/messaging/rabbitmq"
	"dronesim/internal/realtime"
	internalRedis "dronesim/internal/redis"
	"dronesim/internal/repository/postgres"
	"dronesim/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()
	logger := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.WithError(err).Warn("failed to initialize New Relic")
		} else {
			logger.WithField("app", cfg.NewRelic.AppName).Info("New Relic enabled (with DB instrumentation)")
		}
	}

	// Initialize database with New Relic instrumentation.
	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	// Initialize Redis with New Relic instrumentation.
	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	// Wire dependencies.
	srv, err := wireServer(db, redisClient, nrApp, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to wire server")
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	if srv.consumer != nil {
		go func() {
			if err := srv.consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("trigger consumer stopped")
			}
		}()
		logger.WithField("queue", cfg.RabbitMQ.TriggerQueue).Info("consuming order triggers")
	}

	// Start server in goroutine.
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("starting server")
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Stop accepting triggers before halting the runs they would start.
	stopRun()
	if err := srv.http.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}
	if err := srv.simulations.StopAll(shutdownCtx); err != nil {
		logger.WithError(err).Warn("simulations did not stop in time")
	}
	srv.hub.Close()
	if err := srv.messaging.Close(); err != nil {
		logger.WithError(err).Warn("failed to close rabbitmq")
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info("server exited")
}

type server struct {
	http        *http.Server
	simulations *service.SimulationService
	hub         *realtime.Hub
	messaging   *app.Messaging
	consumer    *rabbitmq.TriggerConsumer
}

// wireServer wires all dependencies and returns the HTTP server together
// with the parts that need an orderly shutdown.
func wireServer(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config, logger *logrus.Logger) (*server, error) {
	simCfg := simulationConfig(cfg.Simulation)

	// Initialize Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	trackingCache := internalRedis.NewTrackingCache(redisClient)

	// Initialize repositories.
	orderRepo := postgres.NewOrderRepository(db)
	droneRepo := postgres.NewDroneRepository(db)

	// Simulation events go to websocket rooms, the tracking cache and,
	// when enabled, the broker.
	hub := realtime.NewHub(logger)
	sinks := service.FanoutSink{hub, internalRedis.NewTrackingSink(locationStore, trackingCache)}

	messaging, err := app.NewMessaging(cfg.RabbitMQ, logger)
	if err != nil {
		return nil, err
	}
	if sink := messaging.Sink(); sink != nil {
		sinks = append(sinks, sink)
	}

	// Initialize services.
	simulationService := service.NewSimulationService(
		orderRepo, droneRepo, sinks, service.NewRegistry(), simCfg,
		service.WithDistributedLock(lockStore),
		service.WithNewRelic(nrApp),
		service.WithLogger(logger),
	)
	dispatchService := service.NewDispatchService(orderRepo, droneRepo, simulationService, logger)
	builder := service.NewRouteBuilder(simCfg.LegSteps...)
	orderService := service.NewOrderService(orderRepo, trackingCache, builder, simCfg.Warehouse)
	droneService := service.NewDroneService(droneRepo, locationStore, simCfg.Warehouse)
	paymentService := service.NewPaymentService(cfg.Payment.SecretKey, dispatchService, logger)

	var consumer *rabbitmq.TriggerConsumer
	if messaging != nil {
		consumer = messaging.TriggerConsumer(dispatchService)
	}

	// Initialize handlers.
	router := app.NewRouter(app.RouterDeps{
		OrderHandler:      handler.NewOrderHandler(orderService, dispatchService),
		DroneHandler:      handler.NewDroneHandler(droneService),
		SimulationHandler: handler.NewSimulationHandler(simulationService, dispatchService, orderService, droneService),
		PaymentHandler:    handler.NewPaymentHandler(paymentService),
		RealtimeHandler:   handler.NewRealtimeHandler(hub, orderService, logger),
		RedisClient:       redisClient,
		NewRelicApp:       nrApp,
		Logger:            logger,
	})

	// Create HTTP server.
	return &server{
		http: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		simulations: simulationService,
		hub:         hub,
		messaging:   messaging,
		consumer:    consumer,
	}, nil
}

func simulationConfig(cfg config.SimulationConfig) service.SimulationConfig {
	return service.SimulationConfig{
		LegSteps:              cfg.LegSteps,
		TickInterval:          cfg.TickInterval,
		Warehouse:             domain.Waypoint{Lat: cfg.WarehouseLat, Lng: cfg.WarehouseLng},
		CustomerArrivalStatus: domain.OrderStatus(cfg.CustomerArrivalStatus),
		MaxDuration:           cfg.MaxDuration,
		PersistRetries:        cfg.PersistRetries,
		RetryBackoff:          cfg.RetryBackoff,
		PersistTimeout:        cfg.PersistTimeout,
		HaltOnPersistError:    cfg.HaltOnPersistError,
		LockTTL:               cfg.LockTTL,
	}
}
