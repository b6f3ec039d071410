package engine

import (
	"testing"

	"plexflow/internal/types"
)

func resolve(t *testing.T, ctx *StepContext, s string, item types.Item, index int) any {
	t.Helper()
	val, err := ctx.ResolveValue(s, item, index)
	if err != nil {
		t.Fatalf("ResolveValue(%q) error: %v", s, err)
	}
	return val
}

func TestResolveInputVariables(t *testing.T) {
	ctx := NewStepContext(map[string]any{
		"name":  "Acme Corp",
		"email": "cto@acme.com",
	})

	tests := []struct {
		input    string
		expected string
	}{
		{"${{ input.name }}", "Acme Corp"},
		{"Hello ${{ input.name }}!", "Hello Acme Corp!"},
		{"${{ input.email }}", "cto@acme.com"},
		{"[${{ input.missing }}]", "[]"},
	}

	for _, tt := range tests {
		result := resolve(t, ctx, tt.input, types.Item{}, 0)
		if result != tt.expected {
			t.Errorf("resolve(%q) = %v, want %v", tt.input, result, tt.expected)
		}
	}
}

func TestResolveItemVariables(t *testing.T) {
	ctx := NewStepContext(map[string]any{})
	item := types.Item{JSON: map[string]any{"code": "summarize", "n": 3}}

	if got := resolve(t, ctx, "${{ item.code }}", item, 4); got != "summarize" {
		t.Errorf("item.code = %v, want summarize", got)
	}
	if got := resolve(t, ctx, "${{ item.n * 2 }}", item, 4); got != 6 {
		t.Errorf("item.n * 2 = %v (%T), want 6", got, got)
	}
	if got := resolve(t, ctx, "row-${{ index }}", item, 4); got != "row-4" {
		t.Errorf("index interpolation = %v, want row-4", got)
	}
}

func TestResolveStepOutputVariables(t *testing.T) {
	ctx := NewStepContext(map[string]any{"name": "Test"})
	ctx.AddStepResult("step1", &types.StepResult{
		Status: "success",
		Items: []types.Item{
			types.NewItem(map[string]any{"repo_url": "https://github.com/test", "count": 42}, 0),
			types.NewItem(map[string]any{"repo_url": "https://github.com/other", "count": 7}, 1),
		},
	})

	if val := resolve(t, ctx, "${{ steps.step1.output.repo_url }}", types.Item{}, 0); val != "https://github.com/test" {
		t.Errorf("got %v, want https://github.com/test", val)
	}

	// Test integer preservation when expression is the whole string.
	if val := resolve(t, ctx, "${{ steps.step1.output.count }}", types.Item{}, 0); val != 42 {
		t.Errorf("got %v (%T), want 42 (int)", val, val)
	}

	if val := resolve(t, ctx, "${{ len(steps.step1.items) }}", types.Item{}, 0); val != 2 {
		t.Errorf("len(items) = %v, want 2", val)
	}
	if val := resolve(t, ctx, `${{ steps["step1"].status }}`, types.Item{}, 0); val != "success" {
		t.Errorf("status = %v, want success", val)
	}
}

func TestResolvePipeFunctions(t *testing.T) {
	ctx := NewStepContext(map[string]any{"name": " Acme Corp "})

	tests := []struct {
		input    string
		expected string
	}{
		{"${{ input.name | slugify() }}", "acme-corp"},
		{"${{ input.name | trim() | upper() }}", "ACME CORP"},
		{"${{ lower(input.name) }}", " acme corp "},
	}

	for _, tt := range tests {
		result := resolve(t, ctx, tt.input, types.Item{}, 0)
		if result != tt.expected {
			t.Errorf("resolve(%q) = %v, want %v", tt.input, result, tt.expected)
		}
	}
}

func TestResolveEnvVariables(t *testing.T) {
	t.Setenv("PLEXFLOW_TEST_TOKEN", "abc")
	ctx := NewStepContext(map[string]any{})

	if val := resolve(t, ctx, "${{ env.PLEXFLOW_TEST_TOKEN }}", types.Item{}, 0); val != "abc" {
		t.Errorf("env = %v, want abc", val)
	}
}

func TestResolveSyntaxError(t *testing.T) {
	ctx := NewStepContext(map[string]any{})
	if _, err := ctx.ResolveValue("${{ input.( }}", types.Item{}, 0); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestResolveMap(t *testing.T) {
	ctx := NewStepContext(map[string]any{"name": "Test"})

	input := map[string]any{
		"title":   "Hello ${{ input.name }}",
		"literal": "no variables here",
		"number":  42,
		"nested":  map[string]any{"list": []any{"${{ item.id }}"}},
	}

	result, err := ctx.ResolveMap(input, types.Item{JSON: map[string]any{"id": "x1"}}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result["title"] != "Hello Test" {
		t.Errorf("title = %v, want Hello Test", result["title"])
	}
	if result["literal"] != "no variables here" {
		t.Errorf("literal changed unexpectedly: %v", result["literal"])
	}
	if result["number"] != 42 {
		t.Errorf("number = %v, want 42", result["number"])
	}
	list := result["nested"].(map[string]any)["list"].([]any)
	if list[0] != "x1" {
		t.Errorf("nested list = %v, want [x1]", list)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Acme Corp", "acme-corp"},
		{"Hello   World", "hello-world"},
		{"test-already-slug", "test-already-slug"},
		{"  leading trailing  ", "leading-trailing"},
		{"Special!@#Chars", "specialchars"},
	}

	for _, tt := range tests {
		result := slugify(tt.input)
		if result != tt.expected {
			t.Errorf("slugify(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
