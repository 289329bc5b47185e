package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/robb-j/husky-cms/internal/health"
	"github.com/robb-j/husky-cms/internal/httpmw"
	"github.com/robb-j/husky-cms/internal/log"
)

// RouteRegistrar mounts the site's pages. *sitehttp.Routes implements it.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// HSTS only belongs behind a TLS terminating proxy
	HSTS bool

	// SiteMode and Version are echoed as X-Husky-Mode / X-Husky-Version
	SiteMode string
	Version  string

	Health    health.Probe
	Readiness health.Probe

	Site RouteRegistrar
}
