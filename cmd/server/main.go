package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/robb-j/husky-cms/internal/cfg"
	"github.com/robb-j/husky-cms/internal/health"
	"github.com/robb-j/husky-cms/internal/httpmw"
	"github.com/robb-j/husky-cms/internal/httpserver"
	"github.com/robb-j/husky-cms/internal/listcache"
	"github.com/robb-j/husky-cms/internal/log"
	"github.com/robb-j/husky-cms/internal/metrics"
	"github.com/robb-j/husky-cms/internal/opshttp"
	"github.com/robb-j/husky-cms/internal/otelx"
	"github.com/robb-j/husky-cms/internal/pipeline"
	"github.com/robb-j/husky-cms/internal/plugins"
	"github.com/robb-j/husky-cms/internal/prof"
	"github.com/robb-j/husky-cms/internal/ratelimit"
	"github.com/robb-j/husky-cms/internal/registry"
	"github.com/robb-j/husky-cms/internal/render"
	"github.com/robb-j/husky-cms/internal/site"
	"github.com/robb-j/husky-cms/internal/sitehttp"
	"github.com/robb-j/husky-cms/internal/store"
	"github.com/robb-j/husky-cms/internal/trello"
	v "github.com/robb-j/husky-cms/internal/version"
	"github.com/robb-j/husky-cms/internal/webassets"
	"github.com/robb-j/husky-cms/internal/xerrors"
)

const (
	appName = "husky"

	envAppKey = "TRELLO_APP_KEY"
	envToken  = "TRELLO_TOKEN"

	// how long readiness fails before listeners close
	drainPeriod = 15 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s\n", appName, vi)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "HUSKY_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             appName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"store", conf.Store,
		"cache_ttl", conf.CacheTTL,
		"poll_interval", conf.PollInterval,
		"plugin_dir", conf.PluginDir,
		"template_dir", conf.TemplateDir,
		"dev", conf.Dev,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "server", &vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		SetActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	env := cfg.OSEnv()

	// AWS is only needed for the s3 store and the ssm token
	var awsCfg *aws.Config
	needToken := !cfg.Present(env, envToken) && conf.TrelloTokenSSMParam != ""
	useS3 := strings.EqualFold(strings.TrimSpace(conf.Store), store.BackendS3)
	if useS3 || needToken {
		c, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		awsCfg = &c
	}

	if needToken {
		token, err := cfg.ResolveSSMSecret(ctx, ssm.NewFromConfig(*awsCfg), conf.TrelloTokenSSMParam)
		if err != nil {
			L.Error(ctx, err, "failed to resolve trello token from ssm", "param", conf.TrelloTokenSSMParam)
			os.Exit(1)
		}
		env = cfg.Overlay(env, map[string]string{envToken: token})
	}

	if err := cfg.RequireEnv(env, envAppKey, envToken); err != nil {
		L.Error(ctx, err, "refusing to start")
		os.Exit(1)
	}

	storeOpts := store.Options{
		Backend:    conf.Store,
		SQLitePath: conf.StoreSQLitePath,
		S3Bucket:   conf.StoreS3Bucket,
		S3Prefix:   conf.StoreS3Prefix,
	}
	if useS3 {
		storeOpts.S3Client = s3.NewFromConfig(*awsCfg)
	}
	st, err := store.Open(storeOpts)
	if err != nil {
		L.Error(ctx, err, "failed to open list cache store", "store", conf.Store)
		os.Exit(1)
	}
	defer st.Close()

	client, err := trello.New(trello.Options{
		BaseURL:       conf.TrelloBaseURL,
		AppKey:        cfg.Get(env, envAppKey),
		Token:         cfg.Get(env, envToken),
		Timeout:       conf.UpstreamTimeout,
		RatePerSecond: conf.TrelloRate,
		Burst:         conf.TrelloBurst,
		UserAgent:     vi.UserAgent(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create trello client")
		os.Exit(1)
	}

	cache, err := listcache.New(listcache.Options{
		Store:           st,
		Upstream:        client,
		Logger:          L.With("component", "listcache"),
		Metrics:         m,
		TTL:             conf.CacheTTL,
		UpstreamTimeout: conf.UpstreamTimeout,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create list cache")
		os.Exit(1)
	}

	refresher := listcache.NewRefresher(listcache.RefresherOptions{
		Cache:    cache,
		Logger:   L.With("component", "refresher"),
		Metrics:  m,
		Interval: listcache.ParsePollInterval(conf.PollInterval),
		Backoff:  conf.RefreshBackoff,
	})
	go func() {
		if err := refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			L.Error(ctx, err, "list refresher stopped")
		}
	}()

	// plugins register against a builder that is frozen before any request
	var pluginDir fs.FS
	if conf.PluginDir != "" {
		pluginDir = os.DirFS(conf.PluginDir)
	}
	builder := registry.NewBuilder()
	loader := &plugins.Loader{
		Modules: plugins.Builtins(),
		Dir:     pluginDir,
		Logger:  L.With("component", "plugins"),
		Metrics: m,
	}
	res, err := loader.Load(ctx, builder, plugins.Kit{Cards: cache, Env: env, Logger: L})
	if err != nil {
		L.Error(ctx, err, "failed to read plugin dir", "plugin_dir", conf.PluginDir)
		os.Exit(1)
	}
	L.Info(ctx, "plugins loaded", "loaded", res.Loaded, "failed", res.Failed)

	reg, err := builder.Freeze(
		registry.WithPriority(conf.PriorityList()...),
		registry.WithCompositeVar(conf.CompositeVar),
		registry.WithAutoComposite(conf.AutoComposite),
	)
	if err != nil {
		L.Error(ctx, err, "failed to freeze registry")
		os.Exit(1)
	}

	mode, err := reg.ResolveSiteMode(env)
	if err != nil {
		L.Error(ctx, err, "no page type is configured, refusing to start")
		os.Exit(1)
	}
	active := reg.ActivePageTypes(env)
	m.SetSiteMode(mode.Kind.String(), mode.PageType)
	m.SetActivePageTypes(len(active))
	L.Info(ctx, "site mode resolved", "mode", mode.String(), "active_page_types", len(active))

	// template-dir overrides the embedded templates
	var sources []fs.FS
	if conf.TemplateDir != "" {
		sources = append(sources, os.DirFS(conf.TemplateDir))
	}
	sources = append(sources, webassets.TemplatesFS())
	renderer, err := render.New(render.Options{
		Sources: sources,
		Names:   reg.Templates(),
		Logger:  L.With("component", "render"),
	})
	if err != nil {
		L.Error(ctx, err, "failed to compile templates")
		os.Exit(1)
	}
	if conf.Dev && conf.TemplateDir != "" {
		go func() {
			if err := renderer.Watch(ctx, conf.TemplateDir); err != nil {
				L.Error(ctx, err, "template watcher stopped")
			}
		}()
	}

	s := &site.Site{
		Name:     conf.SiteName,
		Mode:     mode,
		Pipeline: pipeline.New(reg.ContentTypes(), pipeline.Options{Logger: L, Metrics: m}),
		Renderer: renderer,
	}
	routes, err := sitehttp.New(sitehttp.Options{
		Registry: reg,
		Env:      env,
		Site:     s,
		Static:   webassets.StaticFS(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to mount page types")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	var startup health.Startup
	readiness := health.All(gate.Probe(), startup.Probe())

	limiter := ratelimit.New(ctx,
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// logged once per ip until it is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		HSTS:         conf.HSTS,
		SiteMode:     mode.String(),
		Version:      vi.Version,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Site:         routes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// the ops listener rejects public peers and forwarded requests
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		Lists:       cache,
		Store:       storePinger(st),
		Templates:   renderer,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	startup.Done(mode.String())

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "period", drainPeriod)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "systemd notify: dial")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "systemd notify: write")
	}
	return nil
}

// storePinger returns st as an opshttp.Pinger, or nil for backends without one.
func storePinger(st store.Store) opshttp.Pinger {
	if p, ok := st.(opshttp.Pinger); ok {
		return p
	}
	return nil
}
