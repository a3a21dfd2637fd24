// Command notifyd subscribes to task notifications on Redis and relays them to
// WebSocket clients.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sketchdojo/notifybridge/pkg/bridge"
	"github.com/sketchdojo/notifybridge/pkg/config"
	"github.com/sketchdojo/notifybridge/pkg/environment"
	"github.com/sketchdojo/notifybridge/pkg/httpserver"
	"github.com/sketchdojo/notifybridge/pkg/logger"
	"github.com/sketchdojo/notifybridge/pkg/metrics"
	"github.com/sketchdojo/notifybridge/pkg/notify"
	"github.com/sketchdojo/notifybridge/pkg/realtime"
	"github.com/sketchdojo/notifybridge/pkg/redis"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Name     string `env:"APP_NAME" envDefault:"notifyd"`
	LogLevel string `env:"LOG_LEVEL"`
	Metrics  string `env:"METRICS_NAMESPACE" envDefault:"sketchdojo"`
}

func main() {
	var (
		app     appConfig
		redisCf redis.Config
		notifCf notify.Config
		httpCf  httpserver.Config
	)
	config.MustLoad(&app)
	config.MustLoad(&redisCf)
	config.MustLoad(&notifCf)
	config.MustLoad(&httpCf)

	env := environment.Parse(app.Env)
	log := logger.New(
		logger.WithEnvironment(app.Env, app.Name),
		logger.WithLevelName(app.LogLevel),
		logger.WithContextExtractors(environment.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	ctx := environment.WithContext(context.Background(), env)
	if err := run(ctx, log, app, redisCf, notifCf, httpCf); err != nil {
		log.ErrorContext(ctx, "notifyd stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, app appConfig, redisCf redis.Config, notifCf notify.Config, httpCf httpserver.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(reg, app.Metrics)
	if err != nil {
		return err
	}

	manager := realtime.NewManager(realtime.WithLogger(log))
	if err := metrics.RegisterRealtime(reg, app.Metrics, manager.Stats); err != nil {
		return err
	}

	health, err := redis.Connect(ctx, redisCf)
	if err != nil {
		return err
	}
	defer health.Close()

	sub := notify.NewRedisSubscriber(redisCf,
		append(notifCf.SubscriberOptions(), notify.WithLogger(log), notify.WithMetrics(collector))...,
	)
	if err := bridge.New(manager, bridge.WithLogger(log)).Register(ctx, sub); err != nil {
		return err
	}
	if err := sub.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpCf.ShutdownTimeout)
		defer cancel()
		if err := sub.Stop(stopCtx); err != nil {
			log.ErrorContext(stopCtx, "failed to stop notification subscriber", logger.Error(err))
		}
	}()

	r := chi.NewRouter()
	r.Use(environment.Middleware(environment.FromContext(ctx)))
	r.Handle("/ws", realtime.NewHandler(manager, realtime.WithHandlerLogger(log)))
	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(log, 2*time.Second,
		httpserver.Check{Name: "redis", Fn: redis.Healthcheck(health)},
	))
	r.Handle("/metrics", metrics.Handler(reg))
	r.Get("/stats", statsHandler(manager, sub))

	srv := httpserver.NewFromConfig(httpCf,
		httpserver.WithLogger(log),
		httpserver.WithOnShutdown(func() { _ = manager.Close() }),
	)
	return srv.Run(ctx, r)
}

type stats struct {
	Connections realtime.Stats `json:"connections"`
	Subscriber  notify.Status  `json:"subscriber"`
}

func statsHandler(m *realtime.Manager, sub *notify.Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats{Connections: m.Stats(), Subscriber: sub.Status()})
	}
}
