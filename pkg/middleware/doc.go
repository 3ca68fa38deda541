// Package middleware provides net/http middleware for the treesync HTTP
// surface: Prometheus request metrics, OpenTelemetry spans and structured
// request logs.
//
// Each middleware labels requests with the chi route pattern, so
// /snapshot?url=a.html and /snapshot?url=b.html share one series.
//
//	r := chi.NewRouter()
//	r.Use(
//	    middleware.Prometheus(middleware.WithRegistry(reg)),
//	    middleware.OpenTelemetry(middleware.WithFilter(func(r *http.Request) bool {
//	        return r.URL.Path != "/healthz"
//	    })),
//	    middleware.RequestLogger(logger),
//	)
//
// Sync streams are long lived: their duration is the lifetime of the
// WebSocket, and their status is 101.
package middleware
