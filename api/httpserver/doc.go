// Package httpserver runs the sealbatch HTTP API with the operational
// endpoints every deployment needs.
//
// BaseServer owns a chi router with request-id, real-ip, recoverer and CORS
// middleware. Components mount their routes through RouteRegistrar; the
// server adds:
//
//   - /livez: liveness
//   - /readyz: readiness, flipped by /drain and /undrain
//   - /debug/pprof: when EnablePprof is set
//
// A separate MetricsServer is started when MetricsAddr is set. Its registry
// is available through Metrics so that callers can register collectors
// before RunInBackground.
//
//	srv, err := httpserver.New(cfg, service)
//	if err != nil {
//	    return err
//	}
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
