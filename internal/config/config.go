package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Tenancy       TenancyConfig
	API           APIConfig
	Pages         PagesConfig
	Directory     DirectoryConfig
	Cache         CacheConfig
	Session       SessionConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	Mode         string // marketing, tenant, all
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// TenancyConfig holds host routing configuration.
type TenancyConfig struct {
	RootDomain     string
	RootAliases    []string
	MarketingURL   string
	BypassPrefixes []string
	Routing        string // rewrite, redirect
	TenantScheme   string
	TenantPort     string
}

// APIConfig describes the backend REST API.
type APIConfig struct {
	Scheme         string
	Root           string
	PathPrefix     string
	RefreshPath    string
	ExemptPaths    []string
	Timeout        time.Duration
	RefreshTimeout time.Duration
}

// PagesConfig selects where rendered pages come from.
type PagesConfig struct {
	OriginURL string
	StaticDir string
}

// DirectoryConfig selects the tenant existence backend.
type DirectoryConfig struct {
	Driver      string // api, postgres
	DatabaseURL string
	MaxConns    int
}

// CacheConfig holds redis and query cache configuration
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ExistenceTTL  time.Duration
	QuerySize     int
	QueryTTL      time.Duration
}

// SessionConfig holds browser cookie configuration
type SessionConfig struct {
	AccessCookie     string
	RefreshCookie    string
	ActiveRoleCookie string
	CookieDomain     string
	CookieSecure     bool
	LoginPath        string
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load reads .env (if present) and the environment. Environment variables win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("SERVER_HOST"),
			Port:         v.GetString("SERVER_PORT"),
			Mode:         strings.ToLower(v.GetString("SERVER_MODE")),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  v.GetDuration("SERVER_IDLE_TIMEOUT"),
		},
		Tenancy: TenancyConfig{
			RootDomain:     strings.ToLower(v.GetString("ROOT_DOMAIN")),
			RootAliases:    splitList(v.GetString("ROOT_DOMAIN_ALIASES")),
			MarketingURL:   v.GetString("MARKETING_URL"),
			BypassPrefixes: splitList(v.GetString("ROUTER_BYPASS_PREFIXES")),
			Routing:        strings.ToLower(v.GetString("TENANT_ROUTING")),
			TenantScheme:   v.GetString("TENANT_SCHEME"),
			TenantPort:     v.GetString("TENANT_PORT"),
		},
		API: APIConfig{
			Scheme:         v.GetString("API_SCHEME"),
			Root:           v.GetString("API_ROOT"),
			PathPrefix:     v.GetString("API_PATH_PREFIX"),
			RefreshPath:    v.GetString("API_REFRESH_PATH"),
			ExemptPaths:    splitList(v.GetString("API_REFRESH_EXEMPT_PATHS")),
			Timeout:        v.GetDuration("API_TIMEOUT"),
			RefreshTimeout: v.GetDuration("API_REFRESH_TIMEOUT"),
		},
		Pages: PagesConfig{
			OriginURL: v.GetString("PAGES_ORIGIN_URL"),
			StaticDir: v.GetString("PAGES_STATIC_DIR"),
		},
		Directory: DirectoryConfig{
			Driver:      strings.ToLower(v.GetString("TENANT_DIRECTORY")),
			DatabaseURL: v.GetString("DATABASE_URL"),
			MaxConns:    v.GetInt("DB_MAX_CONNS"),
		},
		Cache: CacheConfig{
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			ExistenceTTL:  v.GetDuration("TENANT_EXISTENCE_TTL"),
			QuerySize:     v.GetInt("QUERY_CACHE_SIZE"),
			QueryTTL:      v.GetDuration("QUERY_CACHE_TTL"),
		},
		Session: SessionConfig{
			AccessCookie:     v.GetString("SESSION_ACCESS_COOKIE"),
			RefreshCookie:    v.GetString("SESSION_REFRESH_COOKIE"),
			ActiveRoleCookie: v.GetString("SESSION_ACTIVE_ROLE_COOKIE"),
			CookieDomain:     v.GetString("SESSION_COOKIE_DOMAIN"),
			CookieSecure:     v.GetBool("SESSION_COOKIE_SECURE"),
			LoginPath:        v.GetString("SESSION_LOGIN_PATH"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       v.GetString("LOG_LEVEL"),
			LogFormat:      v.GetString("LOG_FORMAT"),
			OTELEnabled:    v.GetBool("OTEL_ENABLED"),
			ServiceName:    v.GetString("OTEL_SERVICE_NAME"),
			ServiceVersion: v.GetString("OTEL_SERVICE_VERSION"),
			SamplingRate:   v.GetFloat64("OTEL_SAMPLING_RATE"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("RATELIMIT_RPS"),
			Burst:             v.GetInt("RATELIMIT_BURST"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "3000")
	v.SetDefault("SERVER_MODE", "all")
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "60s")

	v.SetDefault("ROOT_DOMAIN", "localhost")
	v.SetDefault("ROOT_DOMAIN_ALIASES", "127.0.0.1")
	v.SetDefault("MARKETING_URL", "http://localhost:3000")
	v.SetDefault("ROUTER_BYPASS_PREFIXES", "/api,/_next/static,/_next/image,/favicon.ico")
	v.SetDefault("TENANT_ROUTING", "rewrite")
	v.SetDefault("TENANT_SCHEME", "http")
	v.SetDefault("TENANT_PORT", "3555")

	v.SetDefault("API_SCHEME", "http")
	v.SetDefault("API_ROOT", "localhost:8000")
	v.SetDefault("API_PATH_PREFIX", "/api")
	v.SetDefault("API_REFRESH_PATH", "/auth/refresh/")
	v.SetDefault("API_REFRESH_EXEMPT_PATHS", "/auth/refresh/,/auth/login/,/auth/register")
	v.SetDefault("API_TIMEOUT", "10s")
	v.SetDefault("API_REFRESH_TIMEOUT", "30s")

	v.SetDefault("PAGES_ORIGIN_URL", "")
	v.SetDefault("PAGES_STATIC_DIR", "")

	v.SetDefault("TENANT_DIRECTORY", "api")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 10)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("TENANT_EXISTENCE_TTL", "1m")
	v.SetDefault("QUERY_CACHE_SIZE", 4096)
	v.SetDefault("QUERY_CACHE_TTL", "5m")

	v.SetDefault("SESSION_ACCESS_COOKIE", "access_token")
	v.SetDefault("SESSION_REFRESH_COOKIE", "refresh_token")
	v.SetDefault("SESSION_ACTIVE_ROLE_COOKIE", "active_role")
	v.SetDefault("SESSION_COOKIE_DOMAIN", "")
	v.SetDefault("SESSION_COOKIE_SECURE", false)
	v.SetDefault("SESSION_LOGIN_PATH", "/login")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "edusekai-gateway")
	v.SetDefault("OTEL_SERVICE_VERSION", "0.1.0")
	v.SetDefault("OTEL_SAMPLING_RATE", 1.0)

	v.SetDefault("RATELIMIT_RPS", 20)
	v.SetDefault("RATELIMIT_BURST", 40)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Tenancy.RootDomain == "" {
		return errors.New("ROOT_DOMAIN is required")
	}
	if c.Tenancy.MarketingURL == "" {
		return errors.New("MARKETING_URL is required")
	}
	switch c.Server.Mode {
	case "marketing", "tenant", "all":
	default:
		return fmt.Errorf("SERVER_MODE must be one of marketing, tenant, all (got %q)", c.Server.Mode)
	}
	switch c.Tenancy.Routing {
	case "rewrite", "redirect":
	default:
		return fmt.Errorf("TENANT_ROUTING must be rewrite or redirect (got %q)", c.Tenancy.Routing)
	}
	switch c.Directory.Driver {
	case "api":
	case "postgres":
		if c.Directory.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when TENANT_DIRECTORY=postgres")
		}
	default:
		return fmt.Errorf("TENANT_DIRECTORY must be api or postgres (got %q)", c.Directory.Driver)
	}
	if c.API.Root == "" {
		return errors.New("API_ROOT is required")
	}
	if c.API.RefreshTimeout < 0 {
		return errors.New("API_REFRESH_TIMEOUT must not be negative")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
