package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"plexflow/internal/engine"
	"plexflow/internal/loader"
)

var (
	inputJSON string
	inputFile string
	dryRun    bool
)

var runCmd = &cobra.Command{
	Use:   "run <flow-name|flow-file>",
	Short: "Execute a flow with JSON input",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlow,
}

func init() {
	runCmd.Flags().StringVar(&inputJSON, "input", "{}", "JSON input for the flow")
	runCmd.Flags().StringVar(&inputFile, "input-file", "", "read JSON input from a file instead of --input")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the resolved parameters of every item without running")
	rootCmd.AddCommand(runCmd)
}

func runFlow(cmd *cobra.Command, args []string) error {
	flow, err := loader.Resolve(flowsDir, args[0])
	if err != nil {
		return fmt.Errorf("loading flow: %w", err)
	}

	raw := []byte(inputJSON)
	if inputFile != "" {
		raw, err = os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("reading input file: %w", err)
		}
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("parsing input JSON: %w", err)
	}

	registry := defaultRegistry()
	if err := engine.ValidateFlow(flow, registry); err != nil {
		return err
	}

	eng, err := newEngine(registry)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if dryRun {
		result, err := eng.DryRun(flow, input)
		if err != nil {
			return err
		}
		return enc.Encode(result)
	}

	result, err := eng.Run(cmd.Context(), flow, input)
	if err != nil {
		return err
	}
	if err := enc.Encode(result); err != nil {
		return err
	}
	if result.Status == "failed" {
		return fmt.Errorf("flow %q failed: %s", flow.Name, result.Error)
	}
	return nil
}
