package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"plexflow/internal/engine"
	"plexflow/internal/loader"
)

var validateCmd = &cobra.Command{
	Use:   "validate <flow-file>...",
	Short: "Validate YAML flow files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  validateFlow,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateFlow(cmd *cobra.Command, args []string) error {
	registry := defaultRegistry()

	for _, path := range args {
		flow, err := loader.LoadFlow(path)
		if err != nil {
			return err
		}

		if err := engine.ValidateFlow(flow, registry); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Flow %q is valid.\n", flow.Name)
	}
	return nil
}
