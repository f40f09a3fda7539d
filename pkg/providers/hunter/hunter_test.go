package hunter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/types"
)

type staticCreds string

func (c staticCreds) ActiveSecret(context.Context, string, string) (string, error) {
	return string(c), nil
}

func newTestProvider(t *testing.T, handler http.Handler) providers.Provider {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	p, err := New(types.ProviderDescriptor{
		ID:                  ProviderID,
		BaseURL:             ts.URL,
		SupportedOperations: []types.Operation{types.OpFindEmail},
	}, providers.Deps{
		HTTPClient:  ts.Client(),
		Credentials: staticCreds("sk-test"),
		Logger:      slog.Default(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Authenticate(context.Background(), "t1"))
	return p
}

func TestFindEmail(t *testing.T) {
	var gotQuery map[string]string
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/email-finder", r.URL.Path)
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"email": "jane.doe@example.com",
				"score": 92,
				"verification": map[string]string{"status": "valid"},
				"sources":      []map[string]string{{"uri": "https://example.com/team"}},
			},
		})
	}))

	resp, err := p.Execute(context.Background(), &types.Request{
		Operation: types.OpFindEmail,
		Params: map[string]interface{}{
			"company_domain": "example.com",
			"first_name":     "Jane",
			"last_name":      "Doe",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "sk-test", gotQuery["api_key"])
	assert.Equal(t, "example.com", gotQuery["domain"])
	assert.Equal(t, "Jane", gotQuery["first_name"])

	var result types.EmailResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, "jane.doe@example.com", result.Email)
	assert.InDelta(t, 0.92, result.Confidence, 0.001)
	assert.True(t, result.Verified)
}

func TestFindEmailNoResult(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{}})
	}))

	_, err := p.Execute(context.Background(), &types.Request{
		Operation: types.OpFindEmail,
		Params:    map[string]interface{}{"domain": "example.com", "full_name": "Jane Doe"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.AsError(err).Code)
}

func TestErrorMapping(t *testing.T) {
	cases := map[int]types.ErrorCode{
		401: types.ErrAuth,
		429: types.ErrRateLimit,
		500: types.ErrProviderUnavailable,
	}
	for status, want := range cases {
		p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		_, err := p.Execute(context.Background(), &types.Request{
			Operation: types.OpFindEmail,
			Params:    map[string]interface{}{"domain": "example.com", "full_name": "Jane Doe"},
		})
		require.Error(t, err)
		assert.Equal(t, want, types.AsError(err).Code, status)
	}
}

func TestUnsupportedOperation(t *testing.T) {
	p := newTestProvider(t, http.NewServeMux())
	_, err := p.Execute(context.Background(), &types.Request{Operation: types.OpEnrichCompany})
	require.Error(t, err)
	assert.Equal(t, types.ErrOperationUnsupported, types.AsError(err).Code)
}

func TestUnauthenticatedClient(t *testing.T) {
	p, err := New(types.ProviderDescriptor{ID: ProviderID, BaseURL: "https://x.test"},
		providers.Deps{HTTPClient: http.DefaultClient, Credentials: staticCreds(""), Logger: slog.Default()})
	require.NoError(t, err)

	_, err = p.Execute(context.Background(), &types.Request{
		Operation: types.OpFindEmail,
		Params:    map[string]interface{}{"domain": "example.com", "full_name": "Jane Doe"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrAuth, types.AsError(err).Code)
}
