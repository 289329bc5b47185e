package cfg

import (
	"os"
	"strings"

	"github.com/robb-j/husky-cms/internal/xerrors"
)

// Env is a read-only view of the content feed variables. Page types decide
// whether they are active from it.
type Env interface {
	Lookup(name string) (string, bool)
}

type osEnv struct{}

func (osEnv) Lookup(name string) (string, bool) { return os.LookupEnv(name) }

// OSEnv reads the process environment.
func OSEnv() Env { return osEnv{} }

// MapEnv is a fixed Env, mostly for tests.
type MapEnv map[string]string

func (m MapEnv) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Overlay returns an Env that checks over first, then base.
func Overlay(base Env, over map[string]string) Env {
	return overlay{base: base, over: over}
}

type overlay struct {
	base Env
	over map[string]string
}

func (o overlay) Lookup(name string) (string, bool) {
	if v, ok := o.over[name]; ok {
		return v, true
	}
	return o.base.Lookup(name)
}

// Get returns the value of name, or "" when unset.
func Get(env Env, name string) string {
	v, _ := env.Lookup(name)
	return v
}

// ID returns the value of name with surrounding whitespace trimmed, so an
// identifier counts as configured exactly when Present reports it.
func ID(env Env, name string) string {
	return strings.TrimSpace(Get(env, name))
}

// GetOr returns the value of name, or def when unset. An explicitly empty
// value is kept so it can hide an entry (e.g. a page name).
func GetOr(env Env, name, def string) string {
	if v, ok := env.Lookup(name); ok {
		return v
	}
	return def
}

// Present reports whether name is set to a non-blank value.
func Present(env Env, name string) bool {
	v, ok := env.Lookup(name)
	return ok && strings.TrimSpace(v) != ""
}

// List splits a comma separated variable into trimmed, non-empty items.
func List(env Env, name string) []string {
	return SplitList(Get(env, name))
}

// SplitList splits on commas, trims each item and drops empty ones.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MissingError lists configuration variables that must be set before the
// server can start. It is always tagged xerrors.KindConfig.
type MissingError struct {
	Vars   []string
	Reason string
}

func (e *MissingError) Error() string {
	msg := "missing configuration: " + strings.Join(e.Vars, ", ")
	if e.Reason != "" {
		msg = e.Reason + " (" + msg + ")"
	}
	return msg
}

// Missing wraps a MissingError with a stack and the configuration kind.
func Missing(reason string, vars ...string) error {
	return xerrors.WithKind(xerrors.WithStack(&MissingError{Vars: vars, Reason: reason}), xerrors.KindConfig)
}

// RequireEnv returns a configuration error naming every variable in names
// that is not present, or nil.
func RequireEnv(env Env, names ...string) error {
	var missing []string
	for _, n := range names {
		if !Present(env, n) {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return Missing("required variables are not set", missing...)
}
