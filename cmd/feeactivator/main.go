package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/school-transport/internal/config"
	"github.com/ukydev/school-transport/internal/db"
	"github.com/ukydev/school-transport/internal/metrics"
)

// target is one fee collection the job advances.
type target struct {
	kind     string
	advancer db.FeeAdvancer
}

// runOnce advances every target and returns the number of installments moved.
// A failing target is logged and the others still run.
func runOnce(ctx context.Context, targets []target, now time.Time, lead time.Duration, m *metrics.Metrics) int64 {
	var moved int64
	for _, t := range targets {
		res, err := t.advancer.AdvanceStatuses(ctx, now, lead)
		if err != nil {
			log.WithError(err).WithField("kind", t.kind).Error("Failed to advance fee statuses")
			continue
		}
		if m != nil {
			m.FeesAdvanced.WithLabelValues(t.kind, "pending").Add(float64(res.Activated))
			m.FeesAdvanced.WithLabelValues(t.kind, "overdue").Add(float64(res.Overdue))
		}
		log.WithFields(log.Fields{
			"kind":      t.kind,
			"activated": res.Activated,
			"overdue":   res.Overdue,
		}).Info("Advanced fee statuses")
		moved += res.Activated + res.Overdue
	}
	return moved
}

// run advances fees now and then on every tick until ctx is done.
func run(ctx context.Context, targets []target, interval, lead time.Duration, loc *time.Location, m *metrics.Metrics) {
	runOnce(ctx, targets, time.Now().In(loc), lead, m)

	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case at := <-tick.C:
			runOnce(ctx, targets, at.In(loc), lead, m)
		}
	}
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
	store := db.NewStore(client, cfg.Mongo.Database)

	targets := []target{
		{kind: "bus", advancer: store.BusFees},
		{kind: "academic", advancer: store.StudentFees},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"interval": cfg.Fees.TickInterval,
		"lead":     cfg.Fees.ActivationLead,
		"timezone": cfg.Timezone.String(),
	}).Info("Starting fee status advancement")

	m := metrics.New()
	if cfg.Fees.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.Fees.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
		defer srv.Close()
	}

	run(ctx, targets, cfg.Fees.TickInterval, cfg.Fees.ActivationLead, cfg.Timezone, m)
	log.Info("Fee status advancement stopped")
}
