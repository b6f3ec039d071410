package plugin

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"plexflow/internal/types"
)

// Connector defines the interface that all flow connectors must implement.
type Connector interface {
	// Name returns the connector identifier (e.g., "pipelex", "http", "log").
	Name() string

	// Actions returns available actions with their parameter and output schemas.
	Actions() []ActionDef

	// Execute runs a specific action over the step's input items and returns
	// the output items in input order.
	Execute(ctx context.Context, action string, ef ExecuteFunctions) ([]types.Item, error)

	// Validate checks if the connector is properly configured.
	Validate() error
}

// ActionDef describes an action a connector supports.
type ActionDef struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Parameters  map[string]types.FieldDef `json:"parameters,omitempty"`
	Output      map[string]types.FieldDef `json:"output,omitempty"`
	// Credential is the credential type the action authenticates with, if any.
	Credential string `json:"credential,omitempty"`
}

// Action returns the named action of c.
func Action(c Connector, name string) (ActionDef, bool) {
	for _, a := range c.Actions() {
		if a.Name == name {
			return a, true
		}
	}
	return ActionDef{}, false
}

// ExecuteFunctions is what the host hands to a running connector.
type ExecuteFunctions interface {
	// InputItems returns the items the step runs over.
	InputItems() []types.Item

	// Param resolves a parameter for the item at itemIndex. Parameters are
	// re-evaluated for every item. fallback is returned when the step sets no
	// value and the action declares no default.
	Param(name string, itemIndex int, fallback any) (any, error)

	// ContinueOnFail reports whether a failing item should be recorded as
	// {"error": message} instead of aborting the step.
	ContinueOnFail() bool

	// AuthenticatedClient returns an HTTP client that applies the step's
	// credential of the given type to every request.
	AuthenticatedClient(credentialType string) (*http.Client, error)

	Logger() *zap.Logger
}

// NodeOperationError is returned when an item fails and the step does not
// continue on failure.
type NodeOperationError struct {
	Connector string
	ItemIndex int
	Err       error
}

func (e *NodeOperationError) Error() string {
	return fmt.Sprintf("%s connector: item %d: %v", e.Connector, e.ItemIndex, e.Err)
}

func (e *NodeOperationError) Unwrap() error { return e.Err }

// EachItem calls fn for every input item, in order, one at a time. A failing
// item either becomes {"error": message} paired to its index, or aborts the
// remaining items with a *NodeOperationError.
func EachItem(ef ExecuteFunctions, connector string, fn func(i int, item types.Item) (map[string]any, error)) ([]types.Item, error) {
	items := ef.InputItems()
	out := make([]types.Item, 0, len(items))

	for i, item := range items {
		data, err := fn(i, item)
		if err != nil {
			if ef.ContinueOnFail() {
				ef.Logger().Warn("item failed, continuing",
					zap.String("connector", connector),
					zap.Int("item", i),
					zap.Error(err),
				)
				out = append(out, types.NewItem(map[string]any{"error": err.Error()}, i))
				continue
			}
			return nil, &NodeOperationError{Connector: connector, ItemIndex: i, Err: err}
		}
		out = append(out, types.NewItem(data, i))
	}
	return out, nil
}

// StringParam resolves a parameter and renders it as a string. nil becomes "".
func StringParam(ef ExecuteFunctions, name string, itemIndex int, fallback any) (string, error) {
	v, err := ef.Param(name, itemIndex, fallback)
	if err != nil {
		return "", fmt.Errorf("parameter %q: %w", name, err)
	}
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		return fmt.Sprintf("%v", val), nil
	}
}
