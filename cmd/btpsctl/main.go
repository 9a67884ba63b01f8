package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/openbtps/btps-go/config"
)

var (
	cfgFile string
	envFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "btpsctl",
	Short: "btpsctl - manual BTPS protocol exercise tool",
	Long: `btpsctl provides tools for exercising the Billing Trust Protocol Secure
(BTPS) from the command line.

This tool supports:
- Resolving an "account$domain" identity's host and published key over DNS
- Sending a signed document to a receiver identity
- Generating signing/key-agreement key material`,
	PersistentPreRunE: loadConfig,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config/<env>.yaml, see config.Load)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading BTPS_* overrides")
}

// loadConfig loads an optional .env file, then builds the effective Config
// from a YAML file (if --config is set) or the environment-detection search
// order, with BTPS_* overrides applied on top either way.
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", envFile, err)
	}

	var err error
	if cfgFile != "" {
		cfg, err = config.LoadExact(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	return err
}
