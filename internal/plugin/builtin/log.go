package builtin

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"plexflow/internal/plugin"
	"plexflow/internal/types"
)

// LogConnector logs a message per item for debugging flows.
type LogConnector struct{}

func NewLogConnector() *LogConnector { return &LogConnector{} }

func (l *LogConnector) Name() string { return "log" }

func (l *LogConnector) Actions() []plugin.ActionDef {
	return []plugin.ActionDef{
		{
			Name:        "print",
			Description: "Log a message for every item",
			Parameters: map[string]types.FieldDef{
				"message": {Type: "string", Description: "Message to log", Required: true},
			},
			Output: map[string]types.FieldDef{
				"message": {Type: "string", Description: "The logged message"},
			},
		},
	}
}

func (l *LogConnector) Execute(_ context.Context, action string, ef plugin.ExecuteFunctions) ([]types.Item, error) {
	if action != "print" {
		return nil, fmt.Errorf("log connector: unknown action %q", action)
	}

	return plugin.EachItem(ef, l.Name(), func(i int, _ types.Item) (map[string]any, error) {
		message, err := plugin.StringParam(ef, "message", i, "")
		if err != nil {
			return nil, err
		}
		ef.Logger().Info(message, zap.String("connector", l.Name()), zap.Int("item", i))
		return map[string]any{"message": message}, nil
	})
}

func (l *LogConnector) Validate() error { return nil }
