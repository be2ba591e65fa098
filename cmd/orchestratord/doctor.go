package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/config"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string
	var probe bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration without starting the orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath, probe)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&probe, "probe", false, "Attempt to connect to the configured Redis/Postgres backends")

	return cmd
}

// runDoctor validates a config file and, with --probe, attempts to
// reach the backends it names (Redis, Postgres) without constructing
// the full orchestrator or registering any model pools.
func runDoctor(cmd *cobra.Command, configPath string, probe bool) error {
	configPath = resolveConfigPath(configPath)
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintf(out, "Config OK (path: %s)\n", configPath)
	fmt.Fprintf(out, "  session: max_concurrent_per_user=%d idle_ttl=%s max_ttl=%s\n",
		cfg.Session.MaxConcurrentPerUser, cfg.Session.IdleTTL(), cfg.Session.MaxTTL())
	fmt.Fprintf(out, "  quota: %d/hour %d/day\n", cfg.Quota.RequestsPerHour, cfg.Quota.RequestsPerDay)
	fmt.Fprintf(out, "  model_engine: %d fallback chain(s) configured, pool_size=%d\n",
		len(cfg.ModelEngine.FallbackChains), cfg.ModelEngine.PoolSize)
	if cfg.Audit.PostgresDSN != "" {
		fmt.Fprintf(out, "  audit: postgres sink, retention=%s\n", cfg.Audit.RetentionDuration())
	} else {
		fmt.Fprintln(out, "  audit: stdout logger (no postgres_dsn configured)")
	}

	if os.Getenv("VENICE_API_KEY") == "" {
		fmt.Fprintln(out, "  warning: VENICE_API_KEY is not set; `serve` will fail to register model pools")
	}

	if probe {
		if _, err := buildKVStore(cfg); err != nil {
			fmt.Fprintf(out, "  store probe: FAILED: %v\n", err)
		} else {
			fmt.Fprintln(out, "  store probe: OK")
		}
	}

	return nil
}
