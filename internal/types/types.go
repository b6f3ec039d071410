package types

import "time"

// FlowDef represents a parsed YAML flow definition.
type FlowDef struct {
	Name        string            `yaml:"name" json:"name"`
	Version     string            `yaml:"version" json:"version"`
	Description string            `yaml:"description" json:"description"`
	Input       *SchemaDef        `yaml:"input,omitempty" json:"input,omitempty"`
	Trigger     *TriggerDef       `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	Steps       []StepDef         `yaml:"steps" json:"steps"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// SchemaDef describes the input schema of a flow.
type SchemaDef struct {
	Properties map[string]FieldDef `yaml:"properties" json:"properties"`
}

// FieldDef describes a single parameter or schema field.
type FieldDef struct {
	Type        string `yaml:"type" json:"type"`
	DisplayName string `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Description string `yaml:"description" json:"description"`
	Required    bool   `yaml:"required" json:"required"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Placeholder string `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	// Password marks the field as a secret that must be masked.
	Password bool `yaml:"password,omitempty" json:"password,omitempty"`
	// Rows > 0 marks a multi-line string field.
	Rows int `yaml:"rows,omitempty" json:"rows,omitempty"`
}

// TriggerDef describes how a flow is triggered.
type TriggerDef struct {
	Type string `yaml:"type" json:"type"`
	Path string `yaml:"path" json:"path"`
}

// StepDef represents a single step in a flow.
type StepDef struct {
	Name       string         `yaml:"name" json:"name"`
	Connector  string         `yaml:"connector" json:"connector"`
	Action     string         `yaml:"action" json:"action"`
	Parameters map[string]any `yaml:"parameters" json:"parameters"`
	// Items overrides the items fed to the step. It must be a single expression
	// evaluating to a list of objects.
	Items string `yaml:"items,omitempty" json:"items,omitempty"`
	// Credential names the stored credential used by connectors that authenticate.
	Credential string `yaml:"credential,omitempty" json:"credential,omitempty"`
	OnError    string `yaml:"on_error" json:"on_error"`
}

// ContinueOnFail reports whether per-item failures are captured instead of aborting the step.
func (s StepDef) ContinueOnFail() bool { return s.OnError == "continue" }

// PairedItem links an output item back to the input item it was produced from.
type PairedItem struct {
	Item int `json:"item"`
}

// Item is one unit of data flowing between steps.
type Item struct {
	JSON       map[string]any `json:"json"`
	PairedItem *PairedItem    `json:"pairedItem,omitempty"`
}

// NewItem returns an item carrying data and paired to the input at index.
func NewItem(data map[string]any, index int) Item {
	return Item{JSON: data, PairedItem: &PairedItem{Item: index}}
}

// StepResult holds the result of executing a single step.
type StepResult struct {
	Name       string `json:"name"`
	Connector  string `json:"connector"`
	Action     string `json:"action"`
	Status     string `json:"status"`
	Items      []Item `json:"items,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// FlowResult holds the result of an entire flow execution.
type FlowResult struct {
	RunID       string         `json:"run_id"`
	Flow        string         `json:"flow"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Input       map[string]any `json:"input"`
	Steps       []StepResult   `json:"steps"`
	Output      []Item         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
}
