package health

import (
	"context"
	"sync/atomic"

	"github.com/robb-j/husky-cms/internal/xerrors"
)

// Probe is evaluated at request time. nil means OK, an error fails with its message.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every probe passes and returns the first error. nil probes are skipped.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes if one probe passes, otherwise it returns the last error.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var last error
		ok := false
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				last = err
			} else {
				ok = true
			}
		}
		if ok {
			return nil
		}
		if last != nil {
			return last
		}
		return xerrors.New("no healthy probes")
	}
}

// ShutdownGate fails readiness while the server drains.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.draining.Store(true)
	g.reason.Store(reason)
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}

// Startup fails until Done is called. main marks it once the site mode is
// resolved and the page type routes are mounted.
type Startup struct {
	done  atomic.Bool
	state atomic.Value
}

func (s *Startup) Done(state string) {
	s.state.Store(state)
	s.done.Store(true)
}

// State is what Done recorded, "" before that.
func (s *Startup) State() string {
	v, _ := s.state.Load().(string)
	return v
}

func (s *Startup) Probe() CheckFunc {
	return func(context.Context) error {
		if s.done.Load() {
			return nil
		}
		return xerrors.New("starting: site mode not resolved")
	}
}
