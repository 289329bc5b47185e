package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/robb-j/husky-cms/internal/log"
)

// EnvPrefix is the prefix FillFromEnv uses for server flags. Content feed
// variables (PAGE_LIST, BLOG_LIST, ...) are read unprefixed through Env.
const EnvPrefix = "HUSKY_"

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	HTTPPort        int
	AdminPort       int
	TrustedHops     int
	HSTS            bool
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64

	TrelloBaseURL       string
	TrelloRate          float64
	TrelloBurst         int
	TrelloTokenSSMParam string
	UpstreamTimeout     time.Duration
	CacheTTL            time.Duration
	PollInterval        string
	RefreshBackoff      bool

	Store           string
	StoreSQLitePath string
	StoreS3Bucket   string
	StoreS3Prefix   string

	PluginDir     string
	TemplateDir   string
	Dev           bool
	SiteName      string
	PagePriority  string
	CompositeVar  string
	AutoComposite bool
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 3000, "site listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the site listener whose X-Forwarded-For is trusted")
	fs.BoolVar(&c.HSTS, "hsts", false, "send Strict-Transport-Security (only behind TLS)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "plaintext gRPC to otlp-endpoint (false uses TLS)")

	fs.StringVar(&c.TrelloBaseURL, "trello-base-url", "https://api.trello.com/1", "Trello REST API base url")
	fs.Float64Var(&c.TrelloRate, "trello-rate", 5, "max Trello requests per second")
	fs.IntVar(&c.TrelloBurst, "trello-burst", 10, "Trello request burst size")
	fs.StringVar(&c.TrelloTokenSSMParam, "trello-token-ssm-param", "", "ssm parameter holding the Trello token (used when TRELLO_TOKEN is unset)")
	fs.DurationVar(&c.UpstreamTimeout, "upstream-timeout", 15*time.Second, "timeout for one Trello list fetch")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", 10*time.Minute, "how long a fetched list is served before refetching")
	fs.StringVar(&c.PollInterval, "poll-interval", "5000", "background refresh interval in milliseconds (invalid values use 5000)")
	fs.BoolVar(&c.RefreshBackoff, "refresh-backoff", false, "back off exponentially on lists that keep failing to refresh")

	fs.StringVar(&c.Store, "store", "memory", "list cache store: memory|sqlite|s3")
	fs.StringVar(&c.StoreSQLitePath, "store-sqlite-path", "husky-cache.db", "sqlite file for -store=sqlite")
	fs.StringVar(&c.StoreS3Bucket, "store-s3-bucket", "", "s3 bucket for -store=s3")
	fs.StringVar(&c.StoreS3Prefix, "store-s3-prefix", "husky/cache", "s3 key prefix for -store=s3")

	fs.StringVar(&c.PluginDir, "plugin-dir", "", "directory of declarative *.yaml page type plugins")
	fs.StringVar(&c.TemplateDir, "template-dir", "", "directory of *.html templates overriding the embedded ones")
	fs.BoolVar(&c.Dev, "dev", false, "development mode: reload templates from template-dir on change")
	fs.StringVar(&c.SiteName, "site-name", "Husky", "site name shown in the layout")
	fs.StringVar(&c.PagePriority, "page-priority", "", "comma separated page type ids tried first when resolving the site mode")
	fs.StringVar(&c.CompositeVar, "composite-var", "SITE_COMPOSITE", "env variable that forces the composite multi-page site when set")
	fs.BoolVar(&c.AutoComposite, "auto-composite", false, "serve a composite site whenever more than one page type is configured")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// PriorityList splits PagePriority into page type ids.
func (c App) PriorityList() []string { return SplitList(c.PagePriority) }

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..10)", c.TrustedHops))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme), tenant
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Trello client
	if u, err := url.Parse(c.TrelloBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("TRELLO_BASE_URL must be an http(s) URL (got %q)", c.TrelloBaseURL))
	}
	if c.TrelloRate <= 0 {
		errs = append(errs, fmt.Errorf("TRELLO_RATE must be > 0 (got %g)", c.TrelloRate))
	}
	if c.TrelloBurst < 1 {
		errs = append(errs, fmt.Errorf("TRELLO_BURST must be >= 1 (got %d)", c.TrelloBurst))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("UPSTREAM_TIMEOUT must be > 0 (got %s)", c.UpstreamTimeout))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must be > 0 (got %s)", c.CacheTTL))
	}
	// PollInterval is not validated: bad values fall back to the default

	// Store
	switch strings.ToLower(c.Store) {
	case "memory", "":
	case "sqlite":
		if c.StoreSQLitePath == "" {
			errs = append(errs, fmt.Errorf("STORE_SQLITE_PATH required when STORE=sqlite"))
		}
	case "s3":
		if c.StoreS3Bucket == "" {
			errs = append(errs, fmt.Errorf("STORE_S3_BUCKET required when STORE=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE %q (must be memory|sqlite|s3)", c.Store))
	}

	if c.Dev && c.TemplateDir == "" {
		errs = append(errs, fmt.Errorf("TEMPLATE_DIR required when DEV=true"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
