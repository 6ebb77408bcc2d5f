// Package cmd provides the rain command-line interface.
//
// Configuration is read from, highest priority first:
//  1. command-line flags (--config, --port, ...)
//  2. the RAIN_CONFIG_FILE environment variable naming a config file
//  3. individual environment variables (RAIN_SERVER_PORT, RAIN_COMPONENTS_ROOT, ...)
//  4. rain.yml in the working directory
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/rain/internal/config"
	"github.com/conneroisu/rain/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rain",
	Short: "Render component views on the server",
	Long: `rain serves views assembled from independently versioned components.

A view template references other components through tags. rain renders the
whole tree in parallel, binds request data and translations, and returns a
document or the rendered content with its dependencies.

Quick Start:
  rain init --example       Create rain.yml and an example component
  rain serve                Serve the component folder
  rain render /components/weather
  rain components           List registered components`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is rain.yml, can also use RAIN_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("RAIN_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("rain")
	}

	viper.SetEnvPrefix("RAIN")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// A missing or broken file leaves the defaults in place.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the log flags.
func newLogger(out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	format := viper.GetString("log-format")
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("unsupported log format: %s (supported: text, json)", format)
	}
	return logging.NewLogger(&logging.LoggerConfig{Level: level, Format: format, Output: out}), nil
}

// loadRuntimeConfig loads the configuration and the logger every command needs.
func loadRuntimeConfig(cmd *cobra.Command) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
