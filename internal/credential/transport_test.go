package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipelexAt(baseURL string) *Descriptor {
	d := *PipelexAPI
	d.Test.BaseURL = baseURL + "/api/v1"
	return &d
}

func TestPipelexAPIDescriptor(t *testing.T) {
	assert.Equal(t, "pipelexApi", PipelexAPI.Name)
	assert.Equal(t, "http://127.0.0.1:8081/api/v1", PipelexAPI.Test.BaseURL)
	assert.Equal(t, "/health", PipelexAPI.Test.URL)
	assert.Equal(t, http.MethodGet, PipelexAPI.Test.Method)

	require.Len(t, PipelexAPI.Properties, 1)
	apiKey, ok := PipelexAPI.Properties["apiKey"]
	require.True(t, ok)
	assert.True(t, apiKey.Password, "apiKey should be masked")
	assert.True(t, apiKey.Required)
}

func TestTransportInjectsBearer(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	cred := NewCredential("pipelex", PipelexAPIName, map[string]string{"apiKey": "tok"})
	client, err := Client(PipelexAPI, cred)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok", got)
	assert.Empty(t, req.Header.Get("Authorization"), "original request must not be modified")
}

func TestTransportUnknownField(t *testing.T) {
	d := &Descriptor{
		Name:         "broken",
		Authenticate: GenericAuth{Headers: map[string]string{"X-Key": "{{ $credentials.nope }}"}},
	}
	_, err := NewTransport(nil, d, NewCredential("c", "broken", nil))
	assert.ErrorContains(t, err, `unknown field "nope"`)
}

func TestCredentialStringMasksSecret(t *testing.T) {
	cred := NewCredential("pipelex", PipelexAPIName, map[string]string{"apiKey": "super-secret"})
	assert.NotContains(t, cred.String(), "super-secret")
	assert.Equal(t, "super-secret", cred.Value("apiKey"))
}

func TestCredentialTest(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "no content", status: http.StatusNoContent},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path, auth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				auth = r.Header.Get("Authorization")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			d := pipelexAt(srv.URL)
			client, err := Client(d, NewCredential("pipelex", d.Name, map[string]string{"apiKey": "tok"}))
			require.NoError(t, err)

			err = Test(context.Background(), client, d)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, "/api/v1/health", path)
			assert.Equal(t, "Bearer tok", auth)
		})
	}
}

func TestResolve(t *testing.T) {
	store := MemoryStore{"pipelex.apiKey": "tok"}

	cred, err := Resolve(store, PipelexAPI, "pipelex")
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.Value("apiKey"))
	assert.Equal(t, PipelexAPIName, cred.Type)

	_, err = Resolve(store, PipelexAPI, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "apiKey")

	_, err = Resolve(MemoryStore{"empty.apiKey": ""}, PipelexAPI, "empty")
	assert.True(t, IsNotFound(err), "empty required field counts as missing")
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	d, ok := r.Get(PipelexAPIName)
	require.True(t, ok)
	assert.Same(t, PipelexAPI, d)
	assert.Equal(t, []string{PipelexAPIName}, r.List())
	assert.Error(t, r.Register(PipelexAPI), "duplicate registration")
}
