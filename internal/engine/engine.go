package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plexflow/internal/credential"
	"plexflow/internal/metrics"
	"plexflow/internal/plugin"
	"plexflow/internal/types"
)

// ErrNoCredentialStore is returned when a connector asks for a credential
// and the engine has no store.
var ErrNoCredentialStore = errors.New("no credential store configured")

// Engine executes flow definitions.
type Engine struct {
	Registry    *plugin.Registry
	Credentials *credential.Registry
	// Store supplies credential values; nil disables authenticated connectors.
	Store  credential.Store
	Logger *zap.Logger
}

// NewEngine creates a new flow execution engine with the built-in credential types.
func NewEngine(registry *plugin.Registry) *Engine {
	return &Engine{
		Registry:    registry,
		Credentials: credential.DefaultRegistry(),
		Logger:      zap.NewNop(),
	}
}

// Run executes a flow with the given input.
func (e *Engine) Run(ctx context.Context, flow *types.FlowDef, input map[string]any) (*types.FlowResult, error) {
	if err := ValidateInput(flow, input); err != nil {
		return nil, err
	}

	result := &types.FlowResult{
		RunID:     uuid.NewString(),
		Flow:      flow.Name,
		Status:    "success",
		StartedAt: time.Now().UTC(),
		Input:     input,
		Steps:     make([]types.StepResult, 0, len(flow.Steps)),
	}
	log := e.Logger.With(zap.String("flow", flow.Name), zap.String("run_id", result.RunID))
	log.Info("flow started", zap.Int("steps", len(flow.Steps)))

	sctx := NewStepContext(input)
	items := initialItems(input)

	for _, step := range flow.Steps {
		sr := e.executeStep(ctx, step, sctx, items, log)
		result.Steps = append(result.Steps, sr)
		sctx.AddStepResult(step.Name, &sr)
		metrics.StepsTotal.WithLabelValues(step.Connector, sr.Status).Inc()

		if sr.Status != "success" {
			log.Warn("step failed", zap.String("step", step.Name), zap.String("error", sr.Error))

			onError := step.OnError
			if onError == "" {
				onError = "abort"
			}

			switch onError {
			case "abort":
				result.Status = "failed"
				result.Error = fmt.Sprintf("step %q failed: %s", step.Name, sr.Error)
				result.CompletedAt = time.Now().UTC()
				metrics.FlowRunsTotal.WithLabelValues(flow.Name, result.Status).Inc()
				return result, nil
			case "continue":
				result.Status = "partial"
			case "skip":
				// Just skip, don't affect overall status.
			}
			// Items flow past a failed step unchanged.
			continue
		}
		items = sr.Items
	}

	result.Output = items
	result.CompletedAt = time.Now().UTC()
	metrics.FlowRunsTotal.WithLabelValues(flow.Name, result.Status).Inc()
	log.Info("flow finished", zap.String("status", result.Status))
	return result, nil
}

// DryRun validates and resolves every item's parameters without executing steps.
func (e *Engine) DryRun(flow *types.FlowDef, input map[string]any) (*types.FlowResult, error) {
	if err := ValidateFlow(flow, e.Registry); err != nil {
		return nil, err
	}
	if err := ValidateInput(flow, input); err != nil {
		return nil, err
	}

	result := &types.FlowResult{
		RunID:     uuid.NewString(),
		Flow:      flow.Name,
		Status:    "dry_run",
		StartedAt: time.Now().UTC(),
		Input:     input,
		Steps:     make([]types.StepResult, 0, len(flow.Steps)),
	}

	sctx := NewStepContext(input)
	items := initialItems(input)

	for _, step := range flow.Steps {
		sr := types.StepResult{
			Name:      step.Name,
			Connector: step.Connector,
			Action:    step.Action,
			Status:    "dry_run",
		}

		run, err := e.newStepRun(step, sctx, items)
		if err == nil {
			// Show what would be sent for every item.
			sr.Items = make([]types.Item, 0, len(run.items))
			for i, item := range run.items {
				resolved, rerr := sctx.ResolveMap(run.params, item, i)
				if rerr != nil {
					err = fmt.Errorf("item %d: %w", i, rerr)
					break
				}
				sr.Items = append(sr.Items, types.NewItem(resolved, i))
			}
		}
		if err != nil {
			sr.Status = "resolve_error"
			sr.Error = err.Error()
			sr.Items = nil
		}

		result.Steps = append(result.Steps, sr)
		// For dry-run, record a synthetic result so later steps can reference it.
		sctx.AddStepResult(step.Name, &types.StepResult{
			Status: "dry_run",
			Items:  []types.Item{{JSON: map[string]any{"_dry_run": true}}},
		})
	}

	result.CompletedAt = time.Now().UTC()
	return result, nil
}

func (e *Engine) executeStep(ctx context.Context, step types.StepDef, sctx *StepContext, items []types.Item, log *zap.Logger) types.StepResult {
	sr := types.StepResult{
		Name:      step.Name,
		Connector: step.Connector,
		Action:    step.Action,
	}

	start := time.Now()
	defer func() {
		sr.DurationMs = time.Since(start).Milliseconds()
	}()

	run, err := e.newStepRun(step, sctx, items)
	if err != nil {
		sr.Status = "error"
		sr.Error = err.Error()
		return sr
	}
	run.log = log.With(zap.String("step", step.Name))

	out, err := run.conn.Execute(ctx, step.Action, run)
	if err != nil {
		sr.Status = "failed"
		sr.Error = err.Error()
		return sr
	}

	sr.Status = "success"
	sr.Items = out
	return sr
}

// newStepRun looks up the connector and works out the step's items and parameters.
func (e *Engine) newStepRun(step types.StepDef, sctx *StepContext, items []types.Item) (*stepRun, error) {
	conn, ok := e.Registry.Get(step.Connector)
	if !ok {
		return nil, fmt.Errorf("connector %q not found", step.Connector)
	}
	action, ok := plugin.Action(conn, step.Action)
	if !ok {
		return nil, fmt.Errorf("connector %q does not support action %q", step.Connector, step.Action)
	}

	if step.Items != "" {
		var err error
		items, err = resolveItems(sctx, step.Items)
		if err != nil {
			return nil, fmt.Errorf("resolving items: %w", err)
		}
	}

	return &stepRun{
		engine: e,
		step:   step,
		conn:   conn,
		sctx:   sctx,
		items:  items,
		params: applyDefaults(step.Parameters, action.Parameters),
		log:    e.Logger,
	}, nil
}

// initialItems feeds input.items to the first step when it is a list of
// objects, and the whole input as a single item otherwise.
func initialItems(input map[string]any) []types.Item {
	if list, ok := input["items"].([]any); ok {
		if items, ok := toItems(list); ok {
			return items
		}
	}
	return []types.Item{{JSON: input}}
}

func resolveItems(sctx *StepContext, expression string) ([]types.Item, error) {
	v, err := sctx.ResolveValue(expression, types.Item{}, 0)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("items expression must evaluate to a list, got %T", v)
	}
	items, ok := toItems(list)
	if !ok {
		return nil, fmt.Errorf("items expression must evaluate to a list of objects")
	}
	return items, nil
}

func toItems(list []any) ([]types.Item, bool) {
	items := make([]types.Item, 0, len(list))
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		items = append(items, types.Item{JSON: m})
	}
	return items, true
}

// applyDefaults fills in declared defaults for parameters the step leaves unset.
func applyDefaults(params map[string]any, defs map[string]types.FieldDef) map[string]any {
	out := make(map[string]any, len(params)+len(defs))
	for name, def := range defs {
		if def.Default != nil {
			out[name] = def.Default
		}
	}
	for name, v := range params {
		out[name] = v
	}
	return out
}

// stepRun is the host side of one connector execution. It implements
// plugin.ExecuteFunctions.
type stepRun struct {
	engine *Engine
	step   types.StepDef
	conn   plugin.Connector
	sctx   *StepContext
	items  []types.Item
	params map[string]any
	log    *zap.Logger

	clients map[string]*http.Client
}

func (r *stepRun) InputItems() []types.Item { return r.items }

func (r *stepRun) Param(name string, itemIndex int, fallback any) (any, error) {
	raw, ok := r.params[name]
	if !ok {
		return fallback, nil
	}
	if itemIndex < 0 || itemIndex >= len(r.items) {
		return nil, fmt.Errorf("item index %d out of range", itemIndex)
	}
	return r.sctx.ResolveValue(raw, r.items[itemIndex], itemIndex)
}

func (r *stepRun) ContinueOnFail() bool { return r.step.ContinueOnFail() }

func (r *stepRun) AuthenticatedClient(credentialType string) (*http.Client, error) {
	if c, ok := r.clients[credentialType]; ok {
		return c, nil
	}

	d, ok := r.engine.Credentials.Get(credentialType)
	if !ok {
		return nil, fmt.Errorf("unknown credential type %q", credentialType)
	}
	if r.engine.Store == nil {
		return nil, fmt.Errorf("credential %s: %w", credentialType, ErrNoCredentialStore)
	}

	name := r.step.Credential
	if name == "" {
		name = credentialType
	}
	cred, err := credential.Resolve(r.engine.Store, d, name)
	if err != nil {
		return nil, err
	}
	client, err := credential.Client(d, cred)
	if err != nil {
		return nil, err
	}

	r.log.Debug("credential resolved", zap.Stringer("credential", cred))
	if r.clients == nil {
		r.clients = make(map[string]*http.Client)
	}
	r.clients[credentialType] = client
	return client, nil
}

func (r *stepRun) Logger() *zap.Logger { return r.log }
