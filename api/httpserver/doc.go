// Package httpserver provides a reusable HTTP server with the endpoints every
// ledgermix daemon needs.
//
// # Key Components
//
//   - BaseServer: HTTP server with health checks, drain control and lifecycle management
//   - RouteRegistrar: Interface for components to register their routes with the server
//
// # Health and Diagnostics
//
// All servers built with BaseServer include:
//
//   - Liveness Check: /livez
//   - Readiness Check: /readyz, failing while drained
//   - Drain Control: /drain and /undrain, with an optional hook so the
//     component can stop accepting work
//   - Profiling: pprof endpoints under /debug when enabled
//
// # Usage Example
//
//	api := services.NewSessionAPI(manager, cfg.AdminToken)
//
//	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
//	    ListenAddr: cfg.HTTPAddr,
//	    Log:        log,
//	}, api)
//	if err != nil {
//	    return err
//	}
//
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
