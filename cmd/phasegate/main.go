// Command phasegate validates phase specifications, reports on their
// dependency graph and drives phases through their lifecycle ledger.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	ledgerDir  string
	specsDir   string
)

// errReported means the command already printed its failure.
var errReported = errors.New("reported")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "phasegate",
	Short: "Admission gate and lifecycle ledger for dependency-aware work phases",
	Long: `phasegate validates phase specifications before they are admitted,
answers dependency graph questions (order, parallel levels, cycles, blast
radius) and records each phase's lifecycle in a per-phase ledger file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default phasegate.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&ledgerDir, "ledger-dir", "", "ledger directory (overrides ledger.dir)")
	rootCmd.PersistentFlags().StringVar(&specsDir, "specs-dir", "", "spec directory (overrides specs.dir)")

	rootCmd.AddCommand(validateCmd, graphCmd, queueCmd, startCmd, completeCmd, failCmd,
		statusCmd, listCmd, readyCmd, watchCmd)
}
