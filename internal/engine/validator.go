package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"plexflow/internal/plugin"
	"plexflow/internal/types"
)

// ValidationError collects multiple validation issues.
type ValidationError struct {
	Errors []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(ve.Errors, "\n  - "))
}

func (ve *ValidationError) Add(msg string) {
	ve.Errors = append(ve.Errors, msg)
}

func (ve *ValidationError) HasErrors() bool {
	return len(ve.Errors) > 0
}

// stepRefRegex matches steps.name and steps["name"] references.
var stepRefRegex = regexp.MustCompile(`\bsteps(?:\.([A-Za-z_][A-Za-z0-9_]*)|\[\s*["']([^"']+)["']\s*\])`)

// ValidateFlow validates a flow definition against the registry and internal consistency.
func ValidateFlow(flow *types.FlowDef, registry *plugin.Registry) error {
	ve := &ValidationError{}

	if flow.Name == "" {
		ve.Add("flow 'name' is required")
	}
	if len(flow.Steps) == 0 {
		ve.Add("flow must have at least one step")
	}

	stepNames := make(map[string]int)
	for i, step := range flow.Steps {
		if step.Name == "" {
			ve.Add(fmt.Sprintf("step %d: 'name' is required", i+1))
			continue
		}
		if prev, exists := stepNames[step.Name]; exists {
			ve.Add(fmt.Sprintf("step %d: duplicate step name %q (first at step %d)", i+1, step.Name, prev+1))
		}
		stepNames[step.Name] = i

		if step.Connector == "" {
			ve.Add(fmt.Sprintf("step %q: 'connector' is required", step.Name))
		} else if !registry.Has(step.Connector) {
			ve.Add(fmt.Sprintf("step %q: connector %q not found in registry", step.Name, step.Connector))
		} else {
			conn, _ := registry.Get(step.Connector)
			if action, ok := plugin.Action(conn, step.Action); !ok {
				ve.Add(fmt.Sprintf("step %q: connector %q does not support action %q", step.Name, step.Connector, step.Action))
			} else {
				validateRequiredParams(step, action, ve)
			}
		}

		switch step.OnError {
		case "", "abort", "continue", "skip":
			// valid
		default:
			ve.Add(fmt.Sprintf("step %q: invalid on_error value %q (must be abort, continue, or skip)", step.Name, step.OnError))
		}

		if step.Items != "" {
			if m := exprRegex.FindStringSubmatch(step.Items); m == nil || m[0] != strings.TrimSpace(step.Items) {
				ve.Add(fmt.Sprintf("step %q: 'items' must be a single ${{ }} expression", step.Name))
			}
			checkStringRefs(step.Items, stepNames, step.Name, i, ve)
		}

		// Validate step references point to previous steps.
		if step.Parameters != nil {
			validateStepRefs(step.Parameters, stepNames, step.Name, i, ve)
		}
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateRequiredParams(step types.StepDef, action plugin.ActionDef, ve *ValidationError) {
	names := make([]string, 0, len(action.Parameters))
	for name := range action.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := action.Parameters[name]
		if !field.Required || field.Default != nil {
			continue
		}
		if _, ok := step.Parameters[name]; !ok {
			ve.Add(fmt.Sprintf("step %q: required parameter %q is missing", step.Name, name))
		}
	}
}

// ValidateInput checks flow input against the flow's input schema.
func ValidateInput(flow *types.FlowDef, input map[string]any) error {
	if flow.Input == nil {
		return nil
	}
	if input == nil {
		input = map[string]any{}
	}

	schema := inputSchema(flow.Input)
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(input))
	if err != nil {
		return fmt.Errorf("input schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	ve := &ValidationError{}
	for _, re := range result.Errors() {
		if re.Type() == "required" {
			ve.Add(fmt.Sprintf("required input field %q is missing", re.Details()["property"]))
			continue
		}
		ve.Add(fmt.Sprintf("input field %q: %s", re.Field(), re.Description()))
	}
	return ve
}

// inputSchema converts a flow input definition into a JSON Schema document.
func inputSchema(def *types.SchemaDef) map[string]any {
	properties := make(map[string]any, len(def.Properties))
	required := make([]any, 0)

	names := make([]string, 0, len(def.Properties))
	for name := range def.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := def.Properties[name]
		prop := map[string]any{}
		switch field.Type {
		case "", "any":
		case "json":
			prop["type"] = []any{"object", "array", "string"}
		default:
			prop["type"] = field.Type
		}
		if field.Description != "" {
			prop["description"] = field.Description
		}
		properties[name] = prop
		if field.Required {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateStepRefs(params map[string]any, stepNames map[string]int, currentStep string, currentIndex int, ve *ValidationError) {
	for _, v := range params {
		validateValueRefs(v, stepNames, currentStep, currentIndex, ve)
	}
}

func validateValueRefs(v any, stepNames map[string]int, currentStep string, currentIndex int, ve *ValidationError) {
	switch val := v.(type) {
	case string:
		checkStringRefs(val, stepNames, currentStep, currentIndex, ve)
	case map[string]any:
		validateStepRefs(val, stepNames, currentStep, currentIndex, ve)
	case []any:
		for _, item := range val {
			validateValueRefs(item, stepNames, currentStep, currentIndex, ve)
		}
	}
}

func checkStringRefs(s string, stepNames map[string]int, currentStep string, currentIndex int, ve *ValidationError) {
	for _, match := range exprRegex.FindAllStringSubmatch(s, -1) {
		for _, ref := range stepRefRegex.FindAllStringSubmatch(match[1], -1) {
			refName := ref[1]
			if refName == "" {
				refName = ref[2]
			}

			idx, exists := stepNames[refName]
			if !exists {
				ve.Add(fmt.Sprintf("step %q: references unknown step %q", currentStep, refName))
			} else if idx >= currentIndex {
				ve.Add(fmt.Sprintf("step %q: references step %q which has not executed yet", currentStep, refName))
			}
		}
	}
}
