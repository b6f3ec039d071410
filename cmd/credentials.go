package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"plexflow/internal/credential"
)

var (
	credentialType   string
	credentialValues map[string]string
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage stored credentials",
}

var credentialsTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List credential types and their fields",
	Args:  cobra.NoArgs,
	RunE:  listCredentialTypes,
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Store a credential",
	Example: "  plexflow credentials set pipelexApi --value apiKey=sk-123\n" +
		"  plexflow credentials set prod --type pipelexApi --value apiKey=sk-456 --credentials-store keyring",
	Args: cobra.ExactArgs(1),
	RunE: setCredential,
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteCredential,
}

var credentialsTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Check a stored credential against its service",
	Args:  cobra.ExactArgs(1),
	RunE:  testCredential,
}

func init() {
	for _, c := range []*cobra.Command{credentialsSetCmd, credentialsDeleteCmd, credentialsTestCmd} {
		c.Flags().StringVar(&credentialType, "type", credential.PipelexAPIName, "credential type")
	}
	credentialsSetCmd.Flags().StringToStringVar(&credentialValues, "value", nil, "field=value pairs")

	credentialsCmd.AddCommand(credentialsTypesCmd, credentialsSetCmd, credentialsDeleteCmd, credentialsTestCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func lookupType() (*credential.Descriptor, error) {
	d, ok := credential.DefaultRegistry().Get(credentialType)
	if !ok {
		return nil, fmt.Errorf("unknown credential type %q", credentialType)
	}
	return d, nil
}

func listCredentialTypes(cmd *cobra.Command, args []string) error {
	registry := credential.DefaultRegistry()
	out := cmd.OutOrStdout()

	if outputFormat == "json" {
		descs := make([]*credential.Descriptor, 0)
		for _, name := range registry.List() {
			d, _ := registry.Get(name)
			descs = append(descs, d)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tFIELDS\tTEST")
	for _, name := range registry.List() {
		d, _ := registry.Get(name)
		fields := make([]string, 0, len(d.Properties))
		for field := range d.Properties {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		test := strings.TrimSuffix(d.Test.BaseURL, "/") + d.Test.URL
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\n", d.Name, d.DisplayName, strings.Join(fields, ","), d.Test.Method, test)
	}
	return w.Flush()
}

func setCredential(cmd *cobra.Command, args []string) error {
	name := args[0]
	d, err := lookupType()
	if err != nil {
		return err
	}

	for field := range credentialValues {
		if _, ok := d.Properties[field]; !ok {
			return fmt.Errorf("credential type %s has no field %q", d.Name, field)
		}
	}
	for field, def := range d.Properties {
		if def.Required && credentialValues[field] == "" {
			return fmt.Errorf("field %q is required for %s", field, d.Name)
		}
	}

	if cfg.Credentials.Store == "keyring" {
		store := credential.KeyringStore{Service: cfg.Credentials.Service}
		if err := store.Save(name, credentialValues); err != nil {
			return err
		}
	} else {
		store, err := openFileStore()
		if err != nil {
			return err
		}
		if err := store.Save(name, credentialValues); err != nil {
			return err
		}
		if err := credential.WriteFileStore(cfg.Credentials.File, store); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Credential %q (%s) saved to %s store.\n", name, d.Name, cfg.Credentials.Store)
	return nil
}

func deleteCredential(cmd *cobra.Command, args []string) error {
	name := args[0]
	d, err := lookupType()
	if err != nil {
		return err
	}
	fields := make([]string, 0, len(d.Properties))
	for field := range d.Properties {
		fields = append(fields, field)
	}

	if cfg.Credentials.Store == "keyring" {
		store := credential.KeyringStore{Service: cfg.Credentials.Service}
		if err := store.Delete(name, fields); err != nil {
			return err
		}
	} else {
		store, err := openFileStore()
		if err != nil {
			return err
		}
		for _, field := range fields {
			delete(store, name+"."+field)
		}
		if err := credential.WriteFileStore(cfg.Credentials.File, store); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Credential %q deleted.\n", name)
	return nil
}

func testCredential(cmd *cobra.Command, args []string) error {
	name := args[0]
	d, err := lookupType()
	if err != nil {
		return err
	}

	store, err := credentialStore()
	if err != nil {
		return err
	}
	cred, err := credential.Resolve(store, d, name)
	if err != nil {
		return err
	}
	client, err := credential.Client(d, cred)
	if err != nil {
		return err
	}
	if err := credential.Test(cmd.Context(), client, d); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Credential %q (%s) is valid.\n", name, d.Name)
	return nil
}

// openFileStore loads the configured credentials file, or an empty store
// when the file does not exist yet.
func openFileStore() (credential.MemoryStore, error) {
	if cfg.Credentials.File == "" {
		return nil, fmt.Errorf("--credentials-file is required for the file store")
	}
	store, err := credential.LoadFileStore(cfg.Credentials.File)
	if errors.Is(err, fs.ErrNotExist) {
		return credential.MemoryStore{}, nil
	}
	return store, err
}
