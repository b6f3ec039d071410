package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"plexflow/internal/types"
)

// LoadFlow reads and parses a single YAML flow file.
func LoadFlow(path string) (*types.FlowDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading flow file %s: %w", path, err)
	}

	flow, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("flow file %s: %w", path, err)
	}
	return flow, nil
}

// Parse decodes a flow definition. Unknown keys are rejected so that a
// misspelled field fails loudly instead of being ignored.
func Parse(data []byte) (*types.FlowDef, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var flow types.FlowDef
	if err := dec.Decode(&flow); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty flow definition")
		}
		return nil, fmt.Errorf("parsing flow: %w", err)
	}

	if flow.Name == "" {
		return nil, fmt.Errorf("missing required field 'name'")
	}
	if len(flow.Steps) == 0 {
		return nil, fmt.Errorf("must have at least one step")
	}

	return &flow, nil
}

// LoadFlows reads all YAML flow files from a directory, recursively.
func LoadFlows(dir string) (map[string]*types.FlowDef, error) {
	flows := make(map[string]*types.FlowDef)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !isFlowFile(d.Name()) {
			return nil
		}

		flow, err := LoadFlow(path)
		if err != nil {
			return err
		}

		if _, exists := flows[flow.Name]; exists {
			return fmt.Errorf("duplicate flow name %q in %s", flow.Name, path)
		}
		flows[flow.Name] = flow
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading flows from %s: %w", dir, err)
	}

	return flows, nil
}

// Resolve loads a flow given either a file path or the name of a flow in dir.
func Resolve(dir, ref string) (*types.FlowDef, error) {
	if isFlowFile(ref) {
		if _, err := os.Stat(ref); err == nil {
			return LoadFlow(ref)
		}
	}

	flows, err := LoadFlows(dir)
	if err != nil {
		return nil, err
	}
	flow, ok := flows[ref]
	if !ok {
		return nil, fmt.Errorf("flow %q not found in %s", ref, dir)
	}
	return flow, nil
}

// Names returns the flow names in sorted order.
func Names(flows map[string]*types.FlowDef) []string {
	names := make([]string, 0, len(flows))
	for name := range flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isFlowFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
