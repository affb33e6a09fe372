// Package main provides the snpbatch command-line tool.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitUsage   = 2
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

func main() {
	os.Exit(run())
}

func run() int {
	cobra.OnInitialize(initConfig)

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		// Cobra already printed the error.
		return ExitUsage
	}
	return exitCode
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snpbatch",
		Short: "Batch sequence-model predictions for GWAS SNP lists",
		Long: `snpbatch reads GWAS summary statistics, builds the model input window for
each SNP with either allele substituted, runs the pairs through a
prediction service and caches every window and prediction by content, so
interrupted or repeated runs only pay for what is missing.`,
		Example: `  # Predict the first 100 SNPs with a 5 kb negative control
  snpbatch run kunkle.txt -n 100 --negative-control 5000

  # Pick up a multi-day job where it left off
  snpbatch run kunkle.txt --resume

  # Sort a summary-statistics file by p-value
  snpbatch sort kunkle.txt -o kunkle_sorted.txt`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSortCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("snpbatch version %s (%s) built %s\n", version, commit, date)
		},
	}
}

// initConfig loads ~/.snpbatch.yaml when present. A missing file is
// fine; flags and defaults cover everything.
func initConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	viper.SetConfigFile(filepath.Join(home, ".snpbatch.yaml"))
	_ = viper.ReadInConfig()
}

// defaultCacheDir is where both cache namespaces live unless overridden
// by --cache-dir or the cache.dir config key.
func defaultCacheDir() string {
	if dir := viper.GetString("cache.dir"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".snpbatch", "cache")
	}
	return filepath.Join(home, ".snpbatch", "cache")
}
