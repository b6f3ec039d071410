// Package plugintest provides an in-memory plugin.ExecuteFunctions for
// connector tests.
package plugintest

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"plexflow/internal/types"
)

// Functions serves static parameters. Params holds values shared by every
// item; PerItem overrides them for a given item index.
type Functions struct {
	Items    []types.Item
	Params   map[string]any
	PerItem  map[int]map[string]any
	Continue bool
	// Client is returned by AuthenticatedClient; nil means an error.
	Client *http.Client
	Log    *zap.Logger

	// CredentialTypes records every AuthenticatedClient call.
	CredentialTypes []string
}

// Items builds n empty input items.
func Items(n int) []types.Item {
	items := make([]types.Item, n)
	for i := range items {
		items[i] = types.Item{JSON: map[string]any{}}
	}
	return items
}

func (f *Functions) InputItems() []types.Item { return f.Items }

func (f *Functions) Param(name string, itemIndex int, fallback any) (any, error) {
	if p, ok := f.PerItem[itemIndex]; ok {
		if v, ok := p[name]; ok {
			if err, isErr := v.(error); isErr {
				return nil, err
			}
			return v, nil
		}
	}
	if v, ok := f.Params[name]; ok {
		return v, nil
	}
	return fallback, nil
}

func (f *Functions) ContinueOnFail() bool { return f.Continue }

func (f *Functions) AuthenticatedClient(credentialType string) (*http.Client, error) {
	f.CredentialTypes = append(f.CredentialTypes, credentialType)
	if f.Client == nil {
		return nil, fmt.Errorf("no credential of type %q", credentialType)
	}
	return f.Client, nil
}

func (f *Functions) Logger() *zap.Logger {
	if f.Log == nil {
		return zap.NewNop()
	}
	return f.Log
}
