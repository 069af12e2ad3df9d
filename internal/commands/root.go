// Package commands holds the imagewatch command line.
package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"imagewatch/internal/config"
	"imagewatch/internal/logging"
)

// Version is set via ldflags during build.
var Version = "dev"

var (
	configFile string
	v          *viper.Viper
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "imagewatch",
		Short:         "Track container images and their vulnerability scans",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			v, err = config.NewViper(configFile)
			if err != nil {
				return err
			}
			if err := config.BindFlags(v, cmd, map[string]string{
				"log-level":    "log.level",
				"json":         "log.json",
				"database-url": "database_url",
				"store":        "store",
			}); err != nil {
				return err
			}
			logging.Init(v.GetString("log.level"), v.GetBool("log.json"))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (YAML, JSON, or TOML)")
	root.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().Bool("json", false, "Use JSON as log output format")
	root.PersistentFlags().String("database-url", "", "Postgres connection string")
	root.PersistentFlags().String("store", "", "Backing store: postgres or memory")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newSimulateCmd())
	return root
}

func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		log.Error().Err(err).Msg("Command failed")
	}
	return err
}
