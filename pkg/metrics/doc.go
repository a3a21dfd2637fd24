// Package metrics exports notification and realtime counters to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	collector, err := metrics.New(reg, "sketchdojo")
//	if err != nil {
//		return err
//	}
//	sub := notify.NewRedisSubscriber(cfg, notify.WithMetrics(collector))
//	router.Handle("/metrics", metrics.Handler(reg))
package metrics
