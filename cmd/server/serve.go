package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/edusekai/edusekai/internal/apiclient"
	"github.com/edusekai/edusekai/internal/audit"
	"github.com/edusekai/edusekai/internal/authz"
	"github.com/edusekai/edusekai/internal/config"
	"github.com/edusekai/edusekai/internal/hostrouter"
	"github.com/edusekai/edusekai/internal/observability/logger"
	"github.com/edusekai/edusekai/internal/observability/metrics"
	"github.com/edusekai/edusekai/internal/observability/tracing"
	"github.com/edusekai/edusekai/internal/querycache"
	"github.com/edusekai/edusekai/internal/store/postgres"
	"github.com/edusekai/edusekai/internal/store/redis"
	"github.com/edusekai/edusekai/internal/tenant"
	transportHTTP "github.com/edusekai/edusekai/internal/transport/http"
)

func newServeCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the gateway in one of three modes:

  marketing  root-domain traffic; tenant hosts are rewritten or redirected
  tenant     the tenant application shell
  all        both, selected per request by host name`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Server.Mode = mode
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "router mode: marketing, tenant or all (overrides SERVER_MODE)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTel:        cfg.Observability.OTELEnabled,
	})
	slog.Info("starting edusekai gateway", slog.String("mode", cfg.Server.Mode))

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	instruments, err := metrics.New(metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName).NewGateway()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	auditLogger := audit.NewSlogLogger(log)

	router := hostrouter.New(hostrouter.Config{
		RootDomain:     cfg.Tenancy.RootDomain,
		RootAliases:    cfg.Tenancy.RootAliases,
		MarketingURL:   cfg.Tenancy.MarketingURL,
		BypassPrefixes: cfg.Tenancy.BypassPrefixes,
		Routing:        cfg.Tenancy.Routing,
		TenantScheme:   cfg.Tenancy.TenantScheme,
		TenantPort:     cfg.Tenancy.TenantPort,
		Observe:        observeDecision(instruments, auditLogger),
	})

	resolver := newResolver(cfg)
	clientOpts := apiclient.Options{
		Transport:   otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tracer.Provider())),
		Timeout:     cfg.API.Timeout,
		RefreshPath: cfg.API.RefreshPath,
		ExemptPaths: cfg.API.ExemptPaths,
		Refresher:   apiclient.NewRefresher(cfg.API.RefreshTimeout, instruments),
	}

	directory, closeDirectory, err := newDirectory(ctx, cfg, resolver, clientOpts)
	if err != nil {
		return err
	}
	defer closeDirectory()

	tenantOpts := []tenant.Option{tenant.WithMetrics(instruments)}
	if cfg.Cache.RedisAddr != "" {
		rdb, err := redis.NewClient(ctx, redis.Config{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()
		slog.Info("connected to redis", logger.Component("tenant"))
		tenantOpts = append(tenantOpts, tenant.WithCache(redis.NewExistenceCache(rdb, ""), cfg.Cache.ExistenceTTL))
	}
	tenants := tenant.NewService(directory, auditLogger, tenantOpts...)

	menu, err := authz.NewMenuPolicy(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile menu policy: %w", err)
	}

	pages, err := transportHTTP.NewPages(transportHTTP.PagesConfig{
		OriginURL: cfg.Pages.OriginURL,
		StaticDir: cfg.Pages.StaticDir,
	})
	if err != nil {
		return err
	}
	if pages == nil {
		slog.Warn("no page origin configured; page routes answer 404")
	}

	handler := transportHTTP.NewHandler(transportHTTP.Deps{
		Router:        router,
		BaseURL:       resolver.BaseURL,
		ClientOptions: clientOpts,
		Tenants:       tenants,
		Menu:          menu,
		Queries:       querycache.New(cfg.Cache.QuerySize, cfg.Cache.QueryTTL),
		Audit:         auditLogger,
		Pages:         pages,
		Session: transportHTTP.SessionConfig{
			AccessCookie:     cfg.Session.AccessCookie,
			RefreshCookie:    cfg.Session.RefreshCookie,
			ActiveRoleCookie: cfg.Session.ActiveRoleCookie,
			CookieDomain:     cfg.Session.CookieDomain,
			CookieSecure:     cfg.Session.CookieSecure,
			LoginPath:        cfg.Session.LoginPath,
		},
		TracerProvider: tracer.Provider(),
		Tracer:         tracer.GetTracer(),
		Timeout:        cfg.Server.WriteTimeout,
	})

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go rateLimiter.Run(ctx, time.Minute)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      transportHTTP.NewRouter(handler, rateLimiter, cfg.Server.Mode),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server",
			logger.Component("server"),
			logger.Operation("listen"),
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}
	slog.Info("server stopped")
	return nil
}

// newDirectory opens the configured tenant directory. The returned func
// releases any connection it holds.
func newDirectory(ctx context.Context, cfg *config.Config, resolver apiclient.Resolver, opts apiclient.Options) (tenant.Directory, func(), error) {
	if cfg.Directory.Driver != "postgres" {
		dir := tenant.NewAPIDirectory(func(label string) *url.URL {
			return resolver.BaseURL(label + "." + cfg.Tenancy.RootDomain)
		}, opts)
		return dir, func() {}, nil
	}

	db, err := postgres.New(ctx, postgres.Config{
		URL:      cfg.Directory.DatabaseURL,
		MaxConns: int32(cfg.Directory.MaxConns),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database", logger.Component("tenant"))
	return postgres.NewTenantDirectory(db, cfg.Tenancy.RootDomain), db.Close, nil
}

func newResolver(cfg *config.Config) apiclient.Resolver {
	return apiclient.Resolver{
		Scheme:      cfg.API.Scheme,
		APIRoot:     cfg.API.Root,
		PathPrefix:  cfg.API.PathPrefix,
		RootDomain:  cfg.Tenancy.RootDomain,
		RootAliases: cfg.Tenancy.RootAliases,
	}
}

// observeDecision counts routing decisions and audits hosts that were sent
// back to the marketing root.
func observeDecision(g *metrics.Gateway, auditLogger audit.Logger) func(context.Context, hostrouter.Decision) {
	return func(ctx context.Context, d hostrouter.Decision) {
		metrics.Add(ctx, g.HostDecisions, metrics.Result(d.Action.String()))
		if d.Action == hostrouter.ActionRedirect && d.Classification.Kind == hostrouter.KindUnrecognized {
			auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeHostRedirected,
				Host:     d.Classification.Hostname,
				Resource: d.Path,
				Metadata: map[string]any{"location": d.Location},
			})
		}
	}
}
