package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edusekai/edusekai/internal/apiclient"
	"github.com/edusekai/edusekai/internal/config"
	"github.com/edusekai/edusekai/internal/store/redis"
	"github.com/edusekai/edusekai/internal/tenant"
)

type tenantCheckOutput struct {
	Label   string `json:"label"`
	Driver  string `json:"driver"`
	Valid   bool   `json:"valid"`
	Exists  bool   `json:"exists"`
	Evicted bool   `json:"evicted,omitempty"`
	Problem string `json:"problem,omitempty"`
}

func newTenantCheckCmd() *cobra.Command {
	var (
		timeout time.Duration
		evict   bool
	)
	cmd := &cobra.Command{
		Use:   "tenant-check LABEL",
		Short: "Look a tenant label up in the configured directory",
		Long: `Look LABEL up in the tenant directory the gateway is configured with
(TENANT_DIRECTORY=api or postgres) and print whether it exists.

With --evict the cached answer in Redis (REDIS_ADDR) is dropped first, so a
freshly provisioned tenant stops being reported as missing.

Exits non-zero when the lookup itself fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resolver := newResolver(cfg)
			dir, closeDirectory, err := newDirectory(ctx, cfg, resolver, apiclient.Options{Timeout: cfg.API.Timeout})
			if err != nil {
				return err
			}
			defer closeDirectory()

			var forget func(context.Context, string) error
			if evict {
				if cfg.Cache.RedisAddr == "" {
					return errors.New("--evict needs REDIS_ADDR")
				}
				rdb, err := redis.NewClient(ctx, redis.Config{
					Addr:     cfg.Cache.RedisAddr,
					Password: cfg.Cache.RedisPassword,
					DB:       cfg.Cache.RedisDB,
				})
				if err != nil {
					return err
				}
				defer rdb.Close()
				svc := tenant.NewService(dir, nil, tenant.WithCache(redis.NewExistenceCache(rdb, ""), cfg.Cache.ExistenceTTL))
				forget = svc.Forget
			}

			out, err := checkTenant(ctx, dir, cfg.Directory.Driver, args[0], forget)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "lookup timeout")
	cmd.Flags().BoolVar(&evict, "evict", false, "drop the cached answer before looking the label up")
	return cmd
}

// checkTenant looks label up in dir. A non-nil forget drops the cached
// answer first.
func checkTenant(ctx context.Context, dir tenant.Directory, driver, label string, forget func(context.Context, string) error) (tenantCheckOutput, error) {
	out := tenantCheckOutput{Label: strings.ToLower(label), Driver: driver, Valid: true}
	if err := tenant.ValidateLabel(out.Label); err != nil {
		out.Valid = false
		out.Problem = err.Error()
	}

	if forget != nil {
		if err := forget(ctx, out.Label); err != nil {
			return out, err
		}
		out.Evicted = true
	}

	exists, err := dir.Exists(ctx, out.Label)
	if err != nil {
		return out, fmt.Errorf("tenant lookup failed: %w", err)
	}
	out.Exists = exists
	return out, nil
}
