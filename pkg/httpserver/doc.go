// Package httpserver runs an http.Server with signal handling, graceful
// shutdown and JSON liveness and readiness handlers.
//
// Run blocks until ctx is cancelled, SIGINT or SIGTERM arrives, or Shutdown
// is called. Hijacked connections (WebSockets) are not tracked by
// http.Server.Shutdown, so register a closer with WithOnShutdown.
//
//	srv := httpserver.NewFromConfig(cfg,
//		httpserver.WithLogger(log),
//		httpserver.WithOnShutdown(manager.Close),
//	)
//	r := chi.NewRouter()
//	r.Get("/healthz", httpserver.LivenessHandler())
//	r.Get("/readyz", httpserver.ReadinessHandler(log, 2*time.Second,
//		httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)},
//	))
//	if err := srv.Run(ctx, r); err != nil {
//		log.Error("server failed", logger.Error(err))
//	}
//
// Start and shutdown failures are wrapped with ErrStart and ErrShutdown.
package httpserver
