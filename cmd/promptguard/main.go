// Command promptguard runs the prompt scan API, the scan worker, or a
// one-shot scan client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentguard/prompt-scanner/pkg/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "promptguard",
	Short: "Asynchronous security scanning for AI agent system prompts",
	Long: `promptguard scans AI agent system prompts for injection, jailbreak,
data leakage and context smuggling weaknesses.

Examples:
  promptguard api --config config.yaml
  promptguard worker --config config.yaml
  promptguard scan 3f1c... --interval 2s --max-attempts 60`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $CONFIG_FILE or ./config.yaml)")

	rootCmd.AddCommand(newAPICmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newScanCmd())
}

// loadConfig honours --config by pointing the environment loader at it
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
