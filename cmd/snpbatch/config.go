package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage snpbatch configuration",
		Long: `Show, get, or set configuration values. Config is stored in ~/.snpbatch.yaml.

Keys:
  model.url        prediction service endpoint
  genomes.<build>  local FASTA path for a genome build (e.g. genomes.hg19)
  cache.dir        cache root directory`,
		Example: `  snpbatch config                                        # show all config
  snpbatch config set model.url http://localhost:8501/predict
  snpbatch config set genomes.hg19 /data/genomes/hg19.fa # local FASTA for a build
  snpbatch config get cache.dir                          # get a value`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(args[0], args[1])
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(args[0])
		},
	}
}

func runConfigShow() error {
	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Println("# No configuration set. Config file: ~/.snpbatch.yaml")
		return nil
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

// validateConfigKey rejects keys snpbatch never reads, so a typo fails
// at set time instead of silently landing in the config file.
func validateConfigKey(key string) error {
	switch key {
	case "model.url", "cache.dir":
		return nil
	}
	if build, ok := strings.CutPrefix(key, "genomes."); ok && build != "" {
		return nil
	}
	return fmt.Errorf("unknown config key %q (known keys: model.url, cache.dir, genomes.<build>)", key)
}

func runConfigSet(key, value string) error {
	if err := validateConfigKey(key); err != nil {
		return err
	}

	// Every snpbatch setting is a string: a URL or a filesystem path.
	viper.Set(key, value)

	// Ensure config file exists
	cfgFile := viper.ConfigFileUsed()
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".snpbatch.yaml")
	}

	if err := viper.WriteConfigAs(cfgFile); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Set %s = %s in %s\n", key, value, cfgFile)
	return nil
}

func runConfigGet(key string) error {
	val := viper.Get(key)
	if val == nil {
		return fmt.Errorf("key %q is not set", key)
	}
	fmt.Println(val)
	return nil
}
