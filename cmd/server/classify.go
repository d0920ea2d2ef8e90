package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/edusekai/edusekai/internal/config"
	"github.com/edusekai/edusekai/internal/hostrouter"
)

type classifyOutput struct {
	Host     string `json:"host"`
	Kind     string `json:"kind"`
	Label    string `json:"label,omitempty"`
	Action   string `json:"action"`
	Bypassed bool   `json:"bypassed"`
	Target   string `json:"target,omitempty"`
	Location string `json:"location,omitempty"`
}

func newClassifyCmd() *cobra.Command {
	var shell bool
	cmd := &cobra.Command{
		Use:   "classify HOST [PATH]",
		Short: "Print the routing decision for a host",
		Long: `Print how the gateway would route a request for HOST and PATH using the
current configuration. PATH may carry a query string and defaults to /.

Examples:
  server classify greenvale.localhost:3000 /login?next=/dashboard
  server classify --tenant-shell localhost:3555`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			target := "/"
			if len(args) == 2 {
				target = args[1]
			}
			u, err := url.Parse(target)
			if err != nil {
				return fmt.Errorf("invalid path %q: %w", target, err)
			}

			rt := hostrouter.New(hostrouter.Config{
				RootDomain:     cfg.Tenancy.RootDomain,
				RootAliases:    cfg.Tenancy.RootAliases,
				MarketingURL:   cfg.Tenancy.MarketingURL,
				BypassPrefixes: cfg.Tenancy.BypassPrefixes,
				Routing:        cfg.Tenancy.Routing,
				TenantScheme:   cfg.Tenancy.TenantScheme,
				TenantPort:     cfg.Tenancy.TenantPort,
			})

			var d hostrouter.Decision
			if shell {
				d = rt.DecideTenantShell(args[0], u.Path, u.RawQuery)
			} else {
				d = rt.Decide(args[0], u.Path, u.RawQuery)
			}

			out := classifyOutput{
				Host:     args[0],
				Kind:     d.Classification.Kind.String(),
				Label:    d.Classification.Label,
				Action:   d.Action.String(),
				Bypassed: d.Bypassed,
				Location: d.Location,
			}
			if d.Action != hostrouter.ActionRedirect {
				out.Target = d.Target()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&shell, "tenant-shell", false, "use the tenant shell guard instead of the marketing router")
	return cmd
}
