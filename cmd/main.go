package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/school-transport/internal/assignment"
	"github.com/ukydev/school-transport/internal/auth"
	"github.com/ukydev/school-transport/internal/config"
	"github.com/ukydev/school-transport/internal/db"
	"github.com/ukydev/school-transport/internal/enrollment"
	"github.com/ukydev/school-transport/internal/events"
	"github.com/ukydev/school-transport/internal/handlers"
	"github.com/ukydev/school-transport/internal/metrics"
	"github.com/ukydev/school-transport/internal/middleware"
	"github.com/ukydev/school-transport/internal/policy"
)

// backend is the persistence the API is wired to.
type backend struct {
	tx         db.Transactor
	users      db.UserCollection
	transports db.TransportCollection
	classes    db.StudentClassCollection
	buses      db.StudentBusCollection
	busFees    db.BusFeeCollection
	fees       db.StudentFeeCollection
	health     handlers.Pinger
}

func mongoBackend(store *db.Store) backend {
	return backend{
		tx:         store,
		users:      store.Users,
		transports: store.Transports,
		classes:    store.StudentClasses,
		buses:      store.StudentBuses,
		busFees:    store.BusFees,
		fees:       store.StudentFees,
		health:     store,
	}
}

// newServer wires services and handlers on b and returns the API router.
func newServer(cfg *config.Config, b backend, authService *auth.Service, m *metrics.Metrics, publisher events.Publisher) http.Handler {
	selector := assignment.NewService(assignment.Deps{
		Tx:         b.tx,
		Transports: b.transports,
		Buses:      b.buses,
		Fees:       b.busFees,
		Classes:    b.classes,
		Publisher:  publisher,
		Metrics:    m,
		Location:   cfg.Timezone,
	})
	students := enrollment.NewService(enrollment.Deps{
		Tx:         b.tx,
		Users:      b.users,
		Classes:    b.classes,
		Fees:       b.fees,
		Buses:      b.buses,
		BusFees:    b.busFees,
		Assignment: selector,
		Hasher:     authService,
		Metrics:    m,
		Location:   cfg.Timezone,
	})

	authHandler := handlers.NewAuthHandler(authService, b.users)
	transportHandler := handlers.NewTransportHandler(b.transports)
	studentClassHandler := handlers.NewStudentClassHandler(students)
	studentBusHandler := handlers.NewStudentBusHandler(handlers.StudentBusDeps{
		Selector:       selector,
		Users:          b.users,
		Buses:          b.buses,
		Fees:           b.busFees,
		Transports:     b.transports,
		ActivationLead: cfg.Fees.ActivationLead,
	})

	authMiddleware := middleware.NewAuthMiddleware(authService)
	rateLimiter := middleware.NewRateLimitMiddleware()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(m))
	r.Use(rateLimiter.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.WindowSeconds))

	r.Method(http.MethodGet, "/health", handlers.NewHealthHandler(b.health, cfg.Mongo.Timeout))
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Post("/api/auth/login", authHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		allow := authMiddleware.RequirePermission

		r.Get("/api/auth/me", authHandler.GetProfile)

		r.With(allow(policy.ViewStudents)).Get("/api/student-class", studentClassHandler.GetStudentClass)
		r.With(allow(policy.ManageStudents)).Post("/api/student-class", studentClassHandler.CreateStudentClass)
		r.With(allow(policy.ManageStudents)).Put("/api/student-class", studentClassHandler.UpdateStudentClass)
		r.With(allow(policy.ManageStudents)).Delete("/api/student-class", studentClassHandler.DeleteStudentClass)

		r.With(allow(policy.ViewStudentBus)).Get("/api/student-bus", studentBusHandler.GetStudentBus)
		r.With(allow(policy.ManageStudentBus)).Post("/api/student-bus", studentBusHandler.CreateStudentBus)
		r.With(allow(policy.ManageStudentBus)).Put("/api/student-bus", studentBusHandler.UpdateStudentBus)
		r.With(allow(policy.ManageStudentBus)).Delete("/api/student-bus", studentBusHandler.DeleteStudentBus)

		r.With(allow(policy.ViewTransport)).Get("/api/transports", transportHandler.GetTransports)
		r.With(allow(policy.ManageTransport)).Post("/api/transports", transportHandler.CreateTransport)
		r.With(allow(policy.ManageTransport)).Put("/api/transports", transportHandler.UpdateTransport)
		r.With(allow(policy.ManageTransport)).Delete("/api/transports", transportHandler.DeleteTransport)
	})

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.ConfigureLogger()

	client, err := db.ConnectMongo(cfg.Mongo)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	}()
	log.WithField("database", cfg.Mongo.Database).Info("Connected to MongoDB")

	store := db.NewStore(client, cfg.Mongo.Database)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
	err = store.EnsureIndexes(ctx)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("Failed to create indexes")
	}

	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		log.WithError(err).Fatal("Failed to create auth service")
	}

	publisher, err := events.NewPublisher(cfg.MQTT)
	if err != nil {
		log.WithError(err).Warn("MQTT broker unavailable, bus change events disabled")
		publisher = events.NopPublisher{}
	}
	defer publisher.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newServer(cfg, mongoBackend(store), authService, metrics.New(), publisher),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
}
