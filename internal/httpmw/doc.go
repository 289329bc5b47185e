// Package httpmw provides HTTP middleware for the public site server.
//
// httpserver composes them outermost first: recover, security and site
// headers, request ID, client IP, rate limiting, OTel tracing, metrics,
// request logger and access log, then the chi router. Query strings and
// user supplied headers never reach the logs.
package httpmw
