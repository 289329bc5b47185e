package opshttp

import (
	"net/http"

	"github.com/robb-j/husky-cms/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// Lists backs /-/lists, may be nil
	Lists ListInspector

	// Store and Templates add backend and template state to /-/lists when set
	Store     Pinger
	Templates TemplateInfo
}
