// Package httpmw provides HTTP middleware for the public API server.
//
// httpserver.NewHandler composes them outermost first: security headers,
// request ID, recover, client IP, tracing, trace response headers, metrics,
// request-scoped logger, then the chi router. Rate limiting is not applied
// here; the API mounts the limiter on its own route group.
//
// Request data that may carry user input (query strings, user agents, bodies)
// is kept out of logs.
package httpmw
