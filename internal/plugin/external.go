package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"plexflow/internal/types"
)

// ExternalConnector wraps an external executable that speaks JSON over stdin/stdout.
// The executable runs once per item.
// Protocol:
//
//	Request:  {"action": "<action>", "item": {...}, "input": {<resolved parameters>}}
//	Response: {"status": "success|failed", "output": {...}, "error": "..."}
//	Metadata: run with --describe to get {"name": "...", "actions": [...]}
type ExternalConnector struct {
	name    string
	path    string
	actions []ActionDef
}

type externalDescribe struct {
	Name    string      `json:"name"`
	Actions []ActionDef `json:"actions"`
}

type externalRequest struct {
	Action string         `json:"action"`
	Item   map[string]any `json:"item"`
	Input  map[string]any `json:"input"`
}

type externalResponse struct {
	Status string         `json:"status"`
	Output map[string]any `json:"output"`
	Error  string         `json:"error"`
}

// LoadExternalPlugin loads an external plugin from an executable path.
func LoadExternalPlugin(path string) (*ExternalConnector, error) {
	// Run with --describe to get metadata.
	cmd := exec.Command(path, "--describe")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("running %s --describe: %w", path, err)
	}

	var desc externalDescribe
	if err := json.Unmarshal(out, &desc); err != nil {
		return nil, fmt.Errorf("parsing describe output from %s: %w", path, err)
	}

	if desc.Name == "" {
		desc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &ExternalConnector{
		name:    desc.Name,
		path:    path,
		actions: desc.Actions,
	}, nil
}

func (ec *ExternalConnector) Name() string         { return ec.name }
func (ec *ExternalConnector) Actions() []ActionDef { return ec.actions }

func (ec *ExternalConnector) Execute(ctx context.Context, action string, ef ExecuteFunctions) ([]types.Item, error) {
	def, ok := Action(ec, action)
	if !ok {
		return nil, fmt.Errorf("%s connector: unknown action %q", ec.name, action)
	}

	names := make([]string, 0, len(def.Parameters))
	for name := range def.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	return EachItem(ef, ec.name, func(i int, item types.Item) (map[string]any, error) {
		input := make(map[string]any, len(names))
		for _, name := range names {
			v, err := ef.Param(name, i, nil)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", name, err)
			}
			if v != nil {
				input[name] = v
			}
		}
		return ec.call(ctx, ef.Logger(), externalRequest{Action: action, Item: item.JSON, Input: input})
	})
}

func (ec *ExternalConnector) call(ctx context.Context, log *zap.Logger, req externalRequest) (map[string]any, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	cmd := exec.CommandContext(ctx, ec.path)
	cmd.Stdin = strings.NewReader(string(reqJSON))

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("plugin exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("running plugin: %w", err)
	}

	var resp externalResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("parsing plugin response: %w", err)
	}
	log.Debug("external plugin call", zap.String("plugin", ec.name), zap.String("status", resp.Status))

	if resp.Status != "success" {
		if resp.Error == "" {
			resp.Error = fmt.Sprintf("plugin returned status %q", resp.Status)
		}
		return nil, errors.New(resp.Error)
	}
	if resp.Output == nil {
		resp.Output = map[string]any{}
	}
	return resp.Output, nil
}

func (ec *ExternalConnector) Validate() error {
	_, err := os.Stat(ec.path)
	return err
}

// LoadExternalPlugins discovers and loads all plugins from a directory.
// Plugins are executable files in the directory.
func LoadExternalPlugins(dir string, log *zap.Logger) ([]*ExternalConnector, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading plugins directory: %w", err)
	}

	var plugins []*ExternalConnector
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			continue
		}
		// Check if executable.
		if info.Mode()&0111 == 0 {
			continue
		}

		plugin, err := LoadExternalPlugin(path)
		if err != nil {
			log.Warn("failed to load plugin", zap.String("path", path), zap.Error(err))
			continue
		}
		plugins = append(plugins, plugin)
	}

	return plugins, nil
}
