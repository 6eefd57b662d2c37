package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/custodex/params"
)

var (
	// Global flags
	configFile string
	envFile    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "custodex",
	Short: "Custodial token exchange node",
	Long: `custodex runs a custodial exchange over an in-process token ledger.
Users deposit tokens, post orders, and take each other's orders; every
committed change is appended to an audit log that followers replay.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load (default ./.env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override node.log_level")
}

func loadConfig() (params.Config, error) {
	cfg, err := params.Load(configFile, envFile)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Node.LogLevel = logLevel
	}
	return cfg, nil
}
