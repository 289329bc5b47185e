// Package health provides composable probes and the HTTP handlers behind
// /-/healthy and /-/ready.
//
// Probes combine with [All] and [Any]. [ShutdownGate] fails readiness while
// the server drains; [Startup] fails it until the site mode is resolved, so
// no traffic arrives before the page type routes exist.
package health
