package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Tenancy.RootDomain)
	assert.Equal(t, []string{"127.0.0.1"}, cfg.Tenancy.RootAliases)
	assert.Equal(t, "http://localhost:3000", cfg.Tenancy.MarketingURL)
	assert.Equal(t, []string{"/api", "/_next/static", "/_next/image", "/favicon.ico"}, cfg.Tenancy.BypassPrefixes)
	assert.Equal(t, "rewrite", cfg.Tenancy.Routing)
	assert.Equal(t, "all", cfg.Server.Mode)
	assert.Equal(t, "localhost:8000", cfg.API.Root)
	assert.Equal(t, 30*time.Second, cfg.API.RefreshTimeout)
	assert.Equal(t, "api", cfg.Directory.Driver)
	assert.Equal(t, "0.0.0.0:3000", cfg.Addr())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ROOT_DOMAIN", "EduSekai.com")
	t.Setenv("SERVER_MODE", "tenant")
	t.Setenv("API_REFRESH_EXEMPT_PATHS", " /auth/login/ , /auth/refresh/ ,")
	t.Setenv("API_REFRESH_TIMEOUT", "0s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "edusekai.com", cfg.Tenancy.RootDomain)
	assert.Equal(t, "tenant", cfg.Server.Mode)
	assert.Equal(t, []string{"/auth/login/", "/auth/refresh/"}, cfg.API.ExemptPaths)
	assert.Zero(t, cfg.API.RefreshTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Mode: "all"},
			Tenancy:   TenancyConfig{RootDomain: "localhost", MarketingURL: "http://localhost:3000", Routing: "rewrite"},
			API:       APIConfig{Root: "localhost:8000"},
			Directory: DirectoryConfig{Driver: "api"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing root domain", func(c *Config) { c.Tenancy.RootDomain = "" }, "ROOT_DOMAIN"},
		{"bad mode", func(c *Config) { c.Server.Mode = "admin" }, "SERVER_MODE"},
		{"bad routing", func(c *Config) { c.Tenancy.Routing = "proxy" }, "TENANT_ROUTING"},
		{"postgres without dsn", func(c *Config) { c.Directory.Driver = "postgres" }, "DATABASE_URL"},
		{"negative refresh timeout", func(c *Config) { c.API.RefreshTimeout = -time.Second }, "API_REFRESH_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
