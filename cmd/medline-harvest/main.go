// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the medline-harvest CLI.
// It resolves literature identifiers through the PMC ID converter and
// accumulates MEDLINE text for those identifiers into a compressed corpus.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/medline-harvest/internal/secrets"
	"github.com/pdiddy/medline-harvest/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds credentials loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// rootCmd is the base command for the medline-harvest CLI.
var rootCmd = &cobra.Command{
	Use:   "medline-harvest",
	Short: "Resolve literature identifiers and harvest MEDLINE records",
	Long: `medline-harvest keeps a catalog of literature records, fills in missing
PMID, DOI, and PMCID values through the NCBI PMC ID converter, and fetches
MEDLINE text for the known PMIDs into a single compressed corpus archive.

A typical run is: records import, resolve, harvest.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/", os.Stderr)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./medline-harvest.yaml or ~/.config/medline-harvest/config.yaml)")
	rootCmd.PersistentFlags().String("catalog", "", "record catalog database (default data/records.db)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("medline-harvest")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "medline-harvest"))
		}
	}

	bindEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// configKeys lists every PipelineConfig key. Viper only resolves
// environment variables for keys it knows about.
var configKeys = []string{
	"resolver.timeout",
	"resolver.user_agent",
	"resolver.base_url",
	"resolver.tool",
	"resolver.email",
	"resolver.batch_size",
	"resolver.max_attempts",
	"resolver.retry_delay",
	"corpus.dir",
	"corpus.archive",
	"corpus.member",
	"fetch.dir",
	"fetch.install_script",
	"fetch.database",
	"fetch.format",
	"fetch.api_key",
	"harvest.chunk_size",
	"harvest.workers",
	"harvest.on_failure",
	"catalog.path",
}

// bindEnv maps MEDLINE_HARVEST_<SECTION>_<KEY> variables onto the nested
// config keys, e.g. MEDLINE_HARVEST_RESOLVER_EMAIL to resolver.email.
func bindEnv() {
	viper.SetEnvPrefix("MEDLINE_HARVEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range configKeys {
		viper.BindEnv(key)
	}
}

// loadPipelineConfig layers the config file over the built-in defaults,
// then applies the flags shared by every command.
func loadPipelineConfig(cmd *cobra.Command) (types.PipelineConfig, error) {
	cfg := types.DefaultPipelineConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}

	if path, _ := cmd.Flags().GetString("catalog"); path != "" {
		cfg.Catalog.Path = path
	}

	cfg.Resolver.Email = secrets.Resolve(loadedSecrets, secrets.NCBIEmail, cfg.Resolver.Email)
	cfg.Fetch.APIKey = secrets.Resolve(loadedSecrets, secrets.NCBIAPIKey, cfg.Fetch.APIKey)
	return cfg, nil
}

// stringFlag returns the flag value when the user set it, otherwise current.
func stringFlag(cmd *cobra.Command, name, current string) string {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return current
}

func intFlag(cmd *cobra.Command, name string, current int) int {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetInt(name)
		return v
	}
	return current
}

func durationFlag(cmd *cobra.Command, name string, current time.Duration) time.Duration {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetDuration(name)
		return v
	}
	return current
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
