package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"plexflow/internal/loader"
	"plexflow/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server",
	Args:  cobra.NoArgs,
	RunE:  serveWebhook,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func serveWebhook(cmd *cobra.Command, args []string) error {
	flows, err := loader.LoadFlows(flowsDir)
	if err != nil {
		return fmt.Errorf("loading flows: %w", err)
	}

	eng, err := newEngine(defaultRegistry())
	if err != nil {
		return err
	}

	for _, name := range loader.Names(flows) {
		f := flows[name]
		if f.Trigger != nil && f.Trigger.Type == "webhook" {
			log.Info("webhook route", zap.String("method", "POST"), zap.String("path", f.Trigger.Path), zap.String("flow", f.Name))
		}
	}

	srv := server.NewWebhookServer(eng, flows, log)
	return srv.ListenAndServe(cfg.Server.Addr())
}
