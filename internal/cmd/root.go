// Package cmd wires the orbiter command-line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orbiter/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "orbiter",
	Short: "Autonomous code-change orchestration loop",
	Long: `Orbiter drives an external execution agent through a persisted task
graph, one task at a time, verifying every change independently and
mirroring progress into an append-only journal thread.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/orbiter/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.PersistentFlags().String("workunit", "", "work unit id")
	_ = viper.BindPFlag("workunit.id", rootCmd.PersistentFlags().Lookup("workunit"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.config/orbiter")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ORBITER")
	// Replace dots with underscores for nested keys in env vars
	// e.g., ORBITER_LOOP_MAX_ATTEMPTS for loop.max_attempts
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
