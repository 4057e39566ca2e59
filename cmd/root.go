package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/cmd/users"
	"github.com/terraconstructs/fhirapi/internal/config"
	"github.com/terraconstructs/fhirapi/internal/logging"
)

var (
	cfg        *config.Config
	logger     *zap.Logger
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "fhirapi",
	Short: "FHIR clinical data API server",
	Long: `fhirapi serves Patient, Observation, Condition and Encounter resources
over REST and Connect RPC, with role and patient-compartment authorization.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger, err = logging.New(cfg.Log, cfg.Debug)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		users.Configure(cfg, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML, TOML or JSON config file")
	flags.String("db-url", "", "Database connection URL (env: FHIRAPI_DATABASE_URL or DATABASE_URL)")
	flags.String("server-addr", "", "Server bind address (env: FHIRAPI_SERVER_ADDR)")
	flags.String("server-url", "", "Public base URL (env: FHIRAPI_SERVER_URL)")
	flags.String("log-level", "", "Log level: debug, info, warn or error (env: FHIRAPI_LOG_LEVEL)")
	flags.Bool("debug", false, "Enable debug logging (env: FHIRAPI_DEBUG)")

	for key, flag := range map[string]string{
		"database_url": "db-url",
		"server_addr":  "server-addr",
		"server_url":   "server-url",
		"log.level":    "log-level",
		"debug":        "debug",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(users.UsersCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
