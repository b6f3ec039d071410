package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"plexflow/internal/loader"
	"plexflow/internal/plugin"
	"plexflow/internal/types"
)

var describeCmd = &cobra.Command{
	Use:   "describe <flow-name>",
	Short: "Show details of a flow",
	Args:  cobra.ExactArgs(1),
	RunE:  describeFlow,
}

var connectorsCmd = &cobra.Command{
	Use:   "connectors [connector]",
	Short: "List connectors and the parameters of their actions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  describeConnectors,
}

func init() {
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(connectorsCmd)
}

func describeFlow(cmd *cobra.Command, args []string) error {
	flow, err := loader.Resolve(flowsDir, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if outputFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(flow)
	}

	fmt.Fprintf(out, "Name:        %s\n", flow.Name)
	fmt.Fprintf(out, "Version:     %s\n", flow.Version)
	fmt.Fprintf(out, "Description: %s\n", flow.Description)
	if flow.Trigger != nil {
		fmt.Fprintf(out, "Trigger:     %s (%s)\n", flow.Trigger.Type, flow.Trigger.Path)
	}

	if flow.Input != nil && len(flow.Input.Properties) > 0 {
		fmt.Fprintln(out, "\nInput Schema:")
		printFields(out, flow.Input.Properties)
	}

	fmt.Fprintln(out, "\nSteps:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  #\tNAME\tCONNECTOR\tACTION\tCREDENTIAL\tON_ERROR")
	for i, step := range flow.Steps {
		onError := step.OnError
		if onError == "" {
			onError = "abort"
		}
		cred := step.Credential
		if cred == "" {
			cred = "-"
		}
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\n", i+1, step.Name, step.Connector, step.Action, cred, onError)
	}
	return w.Flush()
}

func describeConnectors(cmd *cobra.Command, args []string) error {
	registry := defaultRegistry()
	names := registry.List()
	if len(args) == 1 {
		if !registry.Has(args[0]) {
			return fmt.Errorf("connector %q not found", args[0])
		}
		names = args
	}
	out := cmd.OutOrStdout()

	if outputFormat == "json" {
		actions := make(map[string][]plugin.ActionDef, len(names))
		for _, name := range names {
			c, _ := registry.Get(name)
			actions[name] = c.Actions()
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(actions)
	}

	for _, name := range names {
		c, _ := registry.Get(name)
		for _, a := range c.Actions() {
			fmt.Fprintf(out, "%s.%s: %s\n", name, a.Name, a.Description)
			if a.Credential != "" {
				fmt.Fprintf(out, "  credential: %s\n", a.Credential)
			}
			printFields(out, a.Parameters)
			fmt.Fprintln(out)
		}
	}
	return nil
}

func printFields(out io.Writer, fields map[string]types.FieldDef) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  FIELD\tTYPE\tREQUIRED\tDEFAULT\tDESCRIPTION")
	for _, name := range names {
		field := fields[name]
		def := "-"
		if field.Default != nil {
			def = fmt.Sprintf("%q", fmt.Sprint(field.Default))
		}
		fmt.Fprintf(w, "  %s\t%s\t%v\t%s\t%s\n", name, field.Type, field.Required, def, field.Description)
	}
	w.Flush()
}
