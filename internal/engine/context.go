package engine

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"plexflow/internal/types"
)

var exprRegex = regexp.MustCompile(`\$\{\{\s*(.+?)\s*\}\}`)

// StepContext holds the state available during flow execution for variable resolution.
type StepContext struct {
	Input map[string]any
	Steps map[string]*types.StepResult
	Env   map[string]string

	programs map[string]*vm.Program
}

// NewStepContext creates a StepContext from flow input.
func NewStepContext(input map[string]any) *StepContext {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}
	return &StepContext{
		Input:    input,
		Steps:    make(map[string]*types.StepResult),
		Env:      env,
		programs: make(map[string]*vm.Program),
	}
}

// AddStepResult records the result of a step for later reference.
func (sc *StepContext) AddStepResult(name string, result *types.StepResult) {
	sc.Steps[name] = result
}

// scope is the expression environment for one item. Steps are exposed as
// steps.<name>.status, steps.<name>.items (list of item data) and
// steps.<name>.output (data of the first item).
func (sc *StepContext) scope(item types.Item, index int) map[string]any {
	steps := make(map[string]any, len(sc.Steps))
	for name, sr := range sc.Steps {
		data := make([]any, len(sr.Items))
		for i, it := range sr.Items {
			data[i] = it.JSON
		}
		var output any = map[string]any{}
		if len(sr.Items) > 0 {
			output = sr.Items[0].JSON
		}
		steps[name] = map[string]any{
			"status": sr.Status,
			"items":  data,
			"output": output,
		}
	}

	env := make(map[string]any, len(sc.Env))
	for k, v := range sc.Env {
		env[k] = v
	}

	data := item.JSON
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"input": sc.Input,
		"item":  data,
		"index": index,
		"steps": steps,
		"env":   env,
	}
}

// ResolveMap recursively resolves all expressions in a map for one item.
func (sc *StepContext) ResolveMap(m map[string]any, item types.Item, index int) (map[string]any, error) {
	return sc.resolveMap(m, sc.scope(item, index))
}

// ResolveValue resolves the expressions in a single parameter value.
func (sc *StepContext) ResolveValue(v any, item types.Item, index int) (any, error) {
	return sc.resolveValue(v, sc.scope(item, index))
}

func (sc *StepContext) resolveMap(m map[string]any, scope map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(m))
	for k, v := range m {
		resolved, err := sc.resolveValue(v, scope)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", k, err)
		}
		result[k] = resolved
	}
	return result, nil
}

func (sc *StepContext) resolveValue(v any, scope map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return sc.resolveString(val, scope)
	case map[string]any:
		return sc.resolveMap(val, scope)
	case []any:
		resolved := make([]any, len(val))
		for i, item := range val {
			r, err := sc.resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			resolved[i] = r
		}
		return resolved, nil
	default:
		return v, nil
	}
}

// resolveString replaces all ${{ ... }} expressions in a string.
func (sc *StepContext) resolveString(s string, scope map[string]any) (any, error) {
	// If the entire string is a single expression, return the raw value (preserving type).
	if match := exprRegex.FindStringSubmatch(s); match != nil && match[0] == s {
		return sc.evaluate(match[1], scope)
	}

	// Otherwise, do string interpolation.
	var evalErr error
	result := exprRegex.ReplaceAllStringFunc(s, func(match string) string {
		sub := exprRegex.FindStringSubmatch(match)
		val, err := sc.evaluate(sub[1], scope)
		if err != nil {
			evalErr = err
			return match
		}
		if val == nil {
			return ""
		}
		return fmt.Sprintf("%v", val)
	})
	return result, evalErr
}

// evaluate runs an expr-lang expression such as `item.name | upper()`.
func (sc *StepContext) evaluate(code string, scope map[string]any) (any, error) {
	program, ok := sc.programs[code]
	if !ok {
		var err error
		program, err = expr.Compile(code, exprOptions...)
		if err != nil {
			return nil, fmt.Errorf("compiling expression %q: %w", code, err)
		}
		sc.programs[code] = program
	}

	val, err := expr.Run(program, scope)
	if err != nil {
		return nil, fmt.Errorf("evaluating expression %q: %w", code, err)
	}
	return val, nil
}

var exprOptions = []expr.Option{
	expr.AllowUndefinedVariables(),
	expr.Function("slugify", func(params ...any) (any, error) {
		return slugify(fmt.Sprintf("%v", params[0])), nil
	}, new(func(any) string)),
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else if r == ' ' || r == '-' || r == '_' {
			b.WriteRune('-')
		}
	}
	// Collapse multiple dashes.
	result := b.String()
	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}
	return strings.Trim(result, "-")
}
