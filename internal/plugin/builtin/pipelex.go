package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"plexflow/internal/credential"
	"plexflow/internal/metrics"
	"plexflow/internal/pipelex"
	"plexflow/internal/plugin"
	"plexflow/internal/types"
)

// ErrNoPipeSource is returned when an item names neither a pipe code nor a bundle.
var ErrNoPipeSource = errors.New("At least one of 'Pipe Code' or 'Pipelex Bundle' must be provided")

// InputsError reports that the inputs parameter is not valid JSON.
type InputsError struct {
	Err error
}

func (e *InputsError) Error() string { return "Invalid JSON in inputs field: " + e.Err.Error() }

func (e *InputsError) Unwrap() error { return e.Err }

// PipelexConnector executes Pipelex pipelines, one API call per item.
type PipelexConnector struct{}

func NewPipelexConnector() *PipelexConnector { return &PipelexConnector{} }

func (p *PipelexConnector) Name() string { return "pipelex" }

func (p *PipelexConnector) Actions() []plugin.ActionDef {
	return []plugin.ActionDef{
		{
			Name:        "execute",
			Description: "Execute a Pipelex pipeline",
			Credential:  credential.PipelexAPIName,
			Parameters: map[string]types.FieldDef{
				"baseUrl": {
					Type:        "string",
					DisplayName: "Base URL",
					Description: "The base URL of your Pipelex API server",
					Required:    true,
					Default:     pipelex.DefaultBaseURL,
					Placeholder: pipelex.DefaultBaseURL,
				},
				"pipeCode": {
					Type:        "string",
					DisplayName: "Pipe Code (pipe_code)",
					Description: "API: pipe_code - The pipeline code to execute (optional if Pipelex Bundle is provided)",
					Default:     "",
					Placeholder: "e.g., my-pipeline-code",
				},
				"plxContent": {
					Type:        "string",
					DisplayName: "Pipelex Bundle (plx_content)",
					Description: "API: plx_content - The Pipelex bundle content (optional if Pipe Code is provided). At least one of Pipe Code or Pipelex Bundle must be provided.",
					Default:     "",
					Placeholder: "Enter your Pipelex code here...",
					Rows:        10,
				},
				"inputs": {
					Type:        "json",
					DisplayName: "inputs",
					Description: "API: inputs - The inputs for the pipeline",
					Required:    true,
					Default:     "{}",
				},
				"outputName": {
					Type:        "string",
					DisplayName: "output_name",
					Description: "API: output_name - Optional output name",
				},
				"outputMultiplicity": {
					Type:        "string",
					DisplayName: "output_multiplicity",
					Description: "API: output_multiplicity - Optional output multiplicity",
				},
				"dynamicOutputConceptCode": {
					Type:        "string",
					DisplayName: "dynamic_output_concept_code",
					Description: "API: dynamic_output_concept_code - Optional dynamic output concept code",
				},
			},
			Output: map[string]types.FieldDef{
				"*":     {Type: "object", Description: "The API response, as returned"},
				"error": {Type: "string", Description: "Failure message when the step continues on failure"},
			},
		},
	}
}

// executeParams are the parameters of one item, resolved for that item.
type executeParams struct {
	BaseURL                  string
	PipeCode                 string
	PlxContent               string
	Inputs                   string
	OutputName               string
	OutputMultiplicity       string
	DynamicOutputConceptCode string
}

func resolveExecuteParams(ef plugin.ExecuteFunctions, i int) (*executeParams, error) {
	var (
		p   executeParams
		err error
	)
	if p.BaseURL, err = plugin.StringParam(ef, "baseUrl", i, nil); err != nil {
		return nil, err
	}
	if p.PipeCode, err = plugin.StringParam(ef, "pipeCode", i, ""); err != nil {
		return nil, err
	}
	if p.PlxContent, err = plugin.StringParam(ef, "plxContent", i, ""); err != nil {
		return nil, err
	}
	if p.Inputs, err = jsonParam(ef, "inputs", i); err != nil {
		return nil, err
	}
	if p.OutputName, err = plugin.StringParam(ef, "outputName", i, nil); err != nil {
		return nil, err
	}
	if p.OutputMultiplicity, err = plugin.StringParam(ef, "outputMultiplicity", i, nil); err != nil {
		return nil, err
	}
	if p.DynamicOutputConceptCode, err = plugin.StringParam(ef, "dynamicOutputConceptCode", i, nil); err != nil {
		return nil, err
	}
	return &p, nil
}

// jsonParam returns a json parameter as text. Values written inline as
// objects in the flow file are encoded back to JSON.
func jsonParam(ef plugin.ExecuteFunctions, name string, i int) (string, error) {
	v, err := ef.Param(name, i, nil)
	if err != nil {
		return "", fmt.Errorf("parameter %q: %w", name, err)
	}
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", &InputsError{Err: err}
		}
		return string(data), nil
	}
}

// request validates p and builds the request body. No field is sent empty.
func (p *executeParams) request() (*pipelex.ExecuteRequest, error) {
	if p.PipeCode == "" && p.PlxContent == "" {
		return nil, ErrNoPipeSource
	}

	inputs, err := parseInputs(p.Inputs)
	if err != nil {
		return nil, &InputsError{Err: err}
	}

	return &pipelex.ExecuteRequest{
		Inputs:                   inputs,
		PipeCode:                 p.PipeCode,
		PlxContent:               p.PlxContent,
		OutputName:               p.OutputName,
		OutputMultiplicity:       p.OutputMultiplicity,
		DynamicOutputConceptCode: p.DynamicOutputConceptCode,
	}, nil
}

// parseInputs decodes s keeping numbers exact.
func parseInputs(s string) (any, error) {
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func (p *PipelexConnector) Execute(ctx context.Context, action string, ef plugin.ExecuteFunctions) ([]types.Item, error) {
	if action != "execute" {
		return nil, fmt.Errorf("pipelex connector: unknown action %q", action)
	}

	log := ef.Logger().With(zap.String("connector", p.Name()))
	client := lazyClient{ef: ef}

	return plugin.EachItem(ef, p.Name(), func(i int, _ types.Item) (map[string]any, error) {
		params, err := resolveExecuteParams(ef, i)
		if err != nil {
			metrics.PipelexRequestsTotal.WithLabelValues("invalid_params").Inc()
			return nil, err
		}

		body, err := params.request()
		if err != nil {
			var inputsErr *InputsError
			if errors.As(err, &inputsErr) {
				metrics.PipelexRequestsTotal.WithLabelValues("invalid_inputs").Inc()
			} else {
				metrics.PipelexRequestsTotal.WithLabelValues("invalid_params").Inc()
			}
			return nil, err
		}

		hc, err := client.get()
		if err != nil {
			metrics.PipelexRequestsTotal.WithLabelValues("request_error").Inc()
			return nil, err
		}

		log.Debug("executing pipeline",
			zap.Int("item", i),
			zap.String("url", pipelex.ExecuteURL(params.BaseURL)),
			zap.String("pipe_code", params.PipeCode),
			zap.Bool("inline_bundle", params.PlxContent != ""),
		)

		start := time.Now()
		resp, err := pipelex.New(hc).Execute(ctx, params.BaseURL, body)
		metrics.PipelexRequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.PipelexRequestsTotal.WithLabelValues("request_error").Inc()
			return nil, err
		}
		metrics.PipelexRequestsTotal.WithLabelValues("success").Inc()

		if m, ok := resp.(map[string]any); ok {
			return m, nil
		}
		return map[string]any{"data": resp}, nil
	})
}

func (p *PipelexConnector) Validate() error { return nil }

// lazyClient asks the host for the authenticated client on first use, so
// items that fail validation never touch the credential.
type lazyClient struct {
	ef     plugin.ExecuteFunctions
	once   sync.Once
	client *http.Client
	err    error
}

func (l *lazyClient) get() (*http.Client, error) {
	l.once.Do(func() {
		l.client, l.err = l.ef.AuthenticatedClient(credential.PipelexAPIName)
	})
	return l.client, l.err
}
