package credential

import "plexflow/internal/types"

// PipelexAPIName is the credential type used by the pipelex connector.
const PipelexAPIName = "pipelexApi"

// PipelexAPI is a static bearer token sent as "Authorization: Bearer <token>".
var PipelexAPI = &Descriptor{
	Name:             PipelexAPIName,
	DisplayName:      "Pipelex Bearer Token",
	DocumentationURL: "https://docs.pipelex.com/pages/api/",
	Properties: map[string]types.FieldDef{
		"apiKey": {
			Type:        "string",
			DisplayName: "Bearer Token",
			Description: "Your Pipelex API Bearer Token (will be sent as Authorization: Bearer YOUR_TOKEN)",
			Required:    true,
			Default:     "",
			Placeholder: "your-bearer-token-here",
			Password:    true,
		},
	},
	Authenticate: GenericAuth{
		Headers: map[string]string{
			"Authorization": "Bearer {{ $credentials.apiKey }}",
		},
	},
	Test: TestRequest{
		BaseURL: "http://127.0.0.1:8081/api/v1",
		URL:     "/health",
		Method:  "GET",
	},
}

// DefaultRegistry returns a registry holding every built-in credential type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(PipelexAPI)
	return r
}
