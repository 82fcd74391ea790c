// Package server exposes a running scan over HTTP.
//
// Endpoints:
//
//   - /metrics: Prometheus exposition of the engine metrics
//   - /events: WebSocket stream of JSON events (run_started, result,
//     run_finished). A client that connects mid-run first receives every
//     event of the current run.
//   - /report: the last finished report
//   - /healthz: liveness
//
// The listener speaks HTTPS when a certificate pair is configured.
//
// Usage:
//
//	srv, err := server.New(&server.Config{Listen: "127.0.0.1:9464", Gatherer: reg})
//	if err != nil {
//	    return err
//	}
//	if err := srv.Listen(); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(context.Background())
//
//	opts.OnResult = srv.Hub().Result
package server
