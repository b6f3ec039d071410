package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"plexflow/internal/config"
	"plexflow/internal/logger"
)

var (
	configFile   string
	flowsDir     string
	outputFormat string
	pluginsDir   string

	cfg *config.Config
	log = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "plexflow",
	Short: "plexflow runs Pipelex pipelines as steps of YAML flows",
	Long: "A CLI-first workflow runner. Flows are YAML files whose steps call connectors " +
		"such as pipelex, http and log, one call per item.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}
		flowsDir = cfg.FlowsDir

		log, err = logger.New(cfg.Log.Level, cfg.Log.Format)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = log.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&flowsDir, "flows-dir", "./flows", "directory containing flow YAML files")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&pluginsDir, "plugins-dir", "./plugins", "directory containing external plugin executables")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("credentials-file", "", "path to .env-style credentials file")
	rootCmd.PersistentFlags().String("credentials-store", "file", "credential store: file or keyring")
}

// Execute runs the root command with ctx as the context of every subcommand.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
