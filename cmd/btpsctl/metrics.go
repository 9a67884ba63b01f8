package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openbtps/btps-go/internal/metrics"
)

var metricsAddrOverride string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Serve the Prometheus metrics endpoint",
	Long: `Metrics starts a standalone HTTP server exposing the process's
Prometheus registry at the loaded Config's metrics.addr/metrics.path,
blocking until the listener exits. Refuses to start when metrics.enabled
is false in the loaded Config.`,
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.Flags().StringVar(&metricsAddrOverride, "addr", "", "override the loaded Config's metrics.addr")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	if !cfg.Metrics.Enabled {
		return fmt.Errorf("metrics.enabled is false in the loaded config")
	}
	addr := cfg.Metrics.Addr
	if metricsAddrOverride != "" {
		addr = metricsAddrOverride
	}
	fmt.Fprintf(cmd.OutOrStdout(), "serving metrics on %s%s\n", addr, cfg.Metrics.Path)
	return metrics.StartServer(addr, cfg.Metrics.Path)
}
