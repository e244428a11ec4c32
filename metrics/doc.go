// Package metrics exports relay activity to Prometheus.
//
// Recorder implements relay.Observer. Register it with a relay through
// relay.WithObserver and serve Handler on a separate listener:
//
//	rec := metrics.NewRecorder(prometheus.NewRegistry())
//	r, _ := relay.NewRelay(st, auth, lim, relay.WithObserver(rec))
//	go http.ListenAndServe(":9100", rec.Handler())
package metrics
