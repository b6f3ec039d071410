package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"plexflow/internal/credential"
	"plexflow/internal/plugin"
	"plexflow/internal/plugin/builtin"
	"plexflow/internal/types"
)

// pipelexServer answers every execute call with the pipe code and
// Authorization header it received.
func pipelexServer(t *testing.T) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var mu sync.Mutex
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"state":     "COMPLETED",
			"pipe_code": body["pipe_code"],
			"auth":      r.Header.Get("Authorization"),
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	registry := plugin.NewRegistry()
	registry.Register(builtin.NewLogConnector())
	registry.Register(builtin.NewPipelexConnector())

	eng := NewEngine(registry)
	eng.Logger = zaptest.NewLogger(t)
	eng.Store = credential.MemoryStore{
		"pipelexApi.apiKey": "sk-default",
		"prod.apiKey":       "sk-prod",
	}
	return eng
}

func TestEngineRunSuccess(t *testing.T) {
	eng := newTestEngine(t)

	flow := &types.FlowDef{
		Name: "test",
		Steps: []types.StepDef{
			{
				Name:       "log-hello",
				Connector:  "log",
				Action:     "print",
				Parameters: map[string]any{"message": "hello ${{ input.name }}"},
			},
		},
	}

	result, err := eng.Run(context.Background(), flow, map[string]any{"name": "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "success" {
		t.Errorf("status = %q, want success", result.Status)
	}
	if result.RunID == "" {
		t.Error("expected a run id")
	}
	if len(result.Steps) != 1 {
		t.Fatalf("expected 1 step result, got %d", len(result.Steps))
	}
	if result.Steps[0].Status != "success" {
		t.Errorf("step status = %q, want success", result.Steps[0].Status)
	}
	if len(result.Output) != 1 || result.Output[0].JSON["message"] != "hello world" {
		t.Errorf("output = %+v, want one item with message 'hello world'", result.Output)
	}
}

func TestEngineRunPipelexPerItem(t *testing.T) {
	srv, bodies := pipelexServer(t)
	eng := newTestEngine(t)

	flow := &types.FlowDef{
		Name: "test",
		Steps: []types.StepDef{
			{
				Name:      "run",
				Connector: "pipelex",
				Action:    "execute",
				Parameters: map[string]any{
					"baseUrl":  srv.URL + "/",
					"pipeCode": "${{ item.code }}",
					"inputs":   map[string]any{"text": "${{ item.text }}"},
				},
			},
			{
				Name:       "report",
				Connector:  "log",
				Action:     "print",
				Parameters: map[string]any{"message": "${{ item.pipe_code }} ${{ item.state }}"},
			},
		},
	}

	input := map[string]any{"items": []any{
		map[string]any{"code": "summarize", "text": "a"},
		map[string]any{"code": "translate", "text": "b"},
	}}
	result, err := eng.Run(context.Background(), flow, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "success" {
		t.Fatalf("status = %q (%s), want success", result.Status, result.Error)
	}

	if len(*bodies) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(*bodies))
	}
	if (*bodies)[1]["pipe_code"] != "translate" {
		t.Errorf("second pipe_code = %v, want translate", (*bodies)[1]["pipe_code"])
	}
	if got := (*bodies)[0]["inputs"].(map[string]any)["text"]; got != "a" {
		t.Errorf("inputs.text = %v, want a", got)
	}

	items := result.Steps[0].Items
	if len(items) != 2 || items[0].JSON["auth"] != "Bearer sk-default" {
		t.Errorf("pipelex items = %+v", items)
	}
	if items[1].PairedItem == nil || items[1].PairedItem.Item != 1 {
		t.Errorf("item 1 paired = %+v, want 1", items[1].PairedItem)
	}
	if result.Output[1].JSON["message"] != "translate COMPLETED" {
		t.Errorf("output[1] = %v", result.Output[1].JSON)
	}
}

func TestEngineRunNamedCredential(t *testing.T) {
	srv, _ := pipelexServer(t)
	eng := newTestEngine(t)

	flow := &types.FlowDef{
		Name: "test",
		Steps: []types.StepDef{{
			Name:       "run",
			Connector:  "pipelex",
			Action:     "execute",
			Credential: "prod",
			Parameters: map[string]any{"baseUrl": srv.URL, "pipeCode": "p"},
		}},
	}

	result, err := eng.Run(context.Background(), flow, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.Output[0].JSON["auth"]; got != "Bearer sk-prod" {
		t.Errorf("auth = %v, want Bearer sk-prod", got)
	}
}

func TestEngineRunOnErrorAbort(t *testing.T) {
	srv, bodies := pipelexServer(t)
	eng := newTestEngine(t)

	flow := &types.FlowDef{
		Name: "test",
		Steps: []types.StepDef{
			{
				Name:       "fail",
				Connector:  "pipelex",
				Action:     "execute",
				Parameters: map[string]any{"baseUrl": srv.URL},
				OnError:    "abort",
			},
			{
				Name:       "should-not-run",
				Connector:  "log",
				Action:     "print",
				Parameters: map[string]any{"message": "this should not run"},
			},
		},
	}

	result, err := eng.Run(context.Background(), flow, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "failed" {
		t.Errorf("status = %q, want failed", result.Status)
	}
	if len(result.Steps) != 1 {
		t.Errorf("expected 1 step (aborted), got %d", len(result.Steps))
	}
	if !strings.Contains(result.Error, "At least one of 'Pipe Code' or 'Pipelex Bundle' must be provided") {
		t.Errorf("error = %q", result.Error)
	}
	if len(*bodies) != 0 {
		t.Errorf("expected no requests, got %d", len(*bodies))
	}
}

func TestEngineRunOnErrorContinueItems(t *testing.T) {
	srv, bodies := pipelexServer(t)
	eng := newTestEngine(t)

	flow := &types.FlowDef{
		Name: "test",
		Steps: []types.StepDef{
			{
				Name:      "run",
				Connector: "pipelex",
				Action:    "execute",
				Parameters: map[string]any{
					"baseUrl":  srv.URL,
					"pipeCode": "p",
					"inputs":   "${{ item.inputs }}",
				},
				OnError: "continue",
			},
		},
	}

	input := map[string]any{"items": []any{
		map[string]any{"inputs": `{"a":1}`},
		map[string]any{"inputs": `{bad`},
		map[string]any{"inputs": `{}`},
	}}
	result, err := eng.Run(context.Background(), flow, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "success" {
		t.Errorf("status = %q, want success", result.Status)
	}
	if len(result.Output) != 3 {
		t.Fatalf("expected 3 output items, got %d", len(result.Output))
	}
	msg, _ := result.Output[1].JSON["error"].(string)
	if !strings.HasPrefix(msg, "Invalid JSON in inputs field: ") {
		t.Errorf("item 1 error = %q", msg)
	}
	if result.Output[2].JSON["state"] != "COMPLETED" {
		t.Errorf("item 2 = %v, want COMPLETED", result.Output[2].JSON)
	}
	if len(*bodies) != 2 {
		t.Errorf("expected 2 requests, got %d", len(*bodies))
	}
}

func TestEngineRunOnErrorContinueStep(t *testing.T) {
	eng := newTestEngine(t)

	flow := &types.FlowDef{
		Name: "test",
		Steps: []types.StepDef{
			{
				Name:       "bad-items",
				Connector:  "log",
				Action:     "print",
				Items:      "${{ input.name }}",
				Parameters: map[string]any{"message": "x"},
				OnError:    "continue",
			},
			{
				Name:       "log-after",
				Connector:  "log",
				Action:     "print",
				Parameters: map[string]any{"message": "still running ${{ input.name }}"},
			},
		},
	}

	result, err := eng.Run(context.Background(), flow, map[string]any{"name": "n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "partial" {
		t.Errorf("status = %q, want partial", result.Status)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(result.Steps))
	}
	if !strings.Contains(result.Steps[0].Error, "must evaluate to a list") {
		t.Errorf("step 0 error = %q", result.Steps[0].Error)
	}
	if result.Output[0].JSON["message"] != "still running n" {
		t.Errorf("output = %v", result.Output[0].JSON)
	}
}

func TestEngineRunOnErrorSkip(t *testing.T) {
	eng := newTestEngine(t)
	eng.Store = nil

	flow := &types.FlowDef{
		Name: "test",
		Steps: []types.StepDef{
			{
				Name:       "no-credential",
				Connector:  "pipelex",
				Action:     "execute",
				Parameters: map[string]any{"pipeCode": "p"},
				OnError:    "skip",
			},
			{
				Name:       "after",
				Connector:  "log",
				Action:     "print",
				Parameters: map[string]any{"message": "${{ steps['no-credential'].status }}"},
			},
		},
	}

	result, err := eng.Run(context.Background(), flow, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "success" {
		t.Errorf("status = %q, want success", result.Status)
	}
	if !strings.Contains(result.Steps[0].Error, ErrNoCredentialStore.Error()) {
		t.Errorf("step 0 error = %q", result.Steps[0].Error)
	}
	if result.Output[0].JSON["message"] != "failed" {
		t.Errorf("output = %v, want failed", result.Output[0].JSON)
	}
}

func TestEngineRunItemsExpression(t *testing.T) {
	eng := newTestEngine(t)

	flow := &types.FlowDef{
		Name: "test",
		Steps: []types.StepDef{
			{
				Name:       "each",
				Connector:  "log",
				Action:     "print",
				Items:      "${{ input.rows }}",
				Parameters: map[string]any{"message": "${{ index }}:${{ item.id }}"},
			},
		},
	}

	result, err := eng.Run(context.Background(), flow, map[string]any{"rows": []any{
		map[string]any{"id": "a"},
		map[string]any{"id": "b"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Output) != 2 || result.Output[1].JSON["message"] != "1:b" {
		t.Errorf("output = %+v", result.Output)
	}
}

func TestEngineDryRun(t *testing.T) {
	eng := newTestEngine(t)

	flow := &types.FlowDef{
		Name: "test",
		Steps: []types.StepDef{
			{
				Name:       "run",
				Connector:  "pipelex",
				Action:     "execute",
				Parameters: map[string]any{"pipeCode": "${{ input.pipe | lower() }}"},
			},
		},
	}

	result, err := eng.DryRun(flow, map[string]any{"pipe": "SUMMARIZE"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "dry_run" {
		t.Errorf("status = %q, want dry_run", result.Status)
	}
	params := result.Steps[0].Items[0].JSON
	if params["pipeCode"] != "summarize" {
		t.Errorf("resolved pipeCode = %v, want summarize", params["pipeCode"])
	}
	if params["baseUrl"] != "http://localhost:8081" || params["inputs"] != "{}" {
		t.Errorf("defaults not applied: %v", params)
	}
}

func TestEngineValidateInputFails(t *testing.T) {
	eng := newTestEngine(t)

	flow := &types.FlowDef{
		Name: "test",
		Input: &types.SchemaDef{
			Properties: map[string]types.FieldDef{
				"required_field": {Type: "string", Required: true},
			},
		},
		Steps: []types.StepDef{
			{Name: "s", Connector: "log", Action: "print", Parameters: map[string]any{"message": "test"}},
		},
	}

	_, err := eng.Run(context.Background(), flow, map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing required input")
	}
}
