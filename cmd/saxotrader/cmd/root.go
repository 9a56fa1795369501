package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"saxotrader/pkg/config"
	"saxotrader/pkg/logger"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "saxotrader",
	Short: "Scheduled order automation for the Saxo OpenAPI",
	Long: `saxotrader keeps an OAuth2 session with the broker alive and places
recurring orders on cron schedules.

Authorize once:
  saxotrader login

Then run the scheduler and control surface:
  saxotrader serve --config saxotrader.yaml`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides SAXO_LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text or json); overrides SAXO_LOG_FORMAT")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and applies logging settings to the
// standard logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if err := logger.Setup(log.StandardLogger(), cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}
