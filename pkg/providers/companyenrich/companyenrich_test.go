package companyenrich

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
		ID:      ProviderID,
		BaseURL: ts.URL,
		SupportedOperations: []types.Operation{
			types.OpEnrichCompany, types.OpFindLookalike,
		},
	}, providers.Deps{
		HTTPClient:  ts.Client(),
		Credentials: staticCreds("sk-ce"),
		Logger:      slog.Default(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Authenticate(context.Background(), "t1"))
	return p
}

func TestEnrichCompanyBasicAuth(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/companies/enrich", r.URL.Path)
		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "sk-ce", user)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"name":   "Acme",
			"domain": "acme.com",
			"size":   "51-200",
		})
	}))

	resp, err := p.Execute(context.Background(), &types.Request{
		Operation: types.OpEnrichCompany,
		Params:    map[string]interface{}{"domain": "acme.com"},
	})
	require.NoError(t, err)

	var company types.Company
	require.NoError(t, json.Unmarshal(resp.Data, &company))
	assert.Equal(t, "Acme", company.Name)
	assert.Equal(t, "51-200", company.Size)
}

func TestEnrichCompanyEmptyResultIsNotFound(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))

	_, err := p.Execute(context.Background(), &types.Request{
		Operation: types.OpEnrichCompany,
		Params:    map[string]interface{}{"domain": "ghost.example"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.AsError(err).Code)
}

func TestFindLookalike(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/companies/similar", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"companies": []map[string]interface{}{
				{"name": "Beta", "domain": "beta.com"},
				{"name": "Gamma", "domain": "gamma.io"},
			},
		})
	}))

	resp, err := p.Execute(context.Background(), &types.Request{
		Operation: types.OpFindLookalike,
		Params:    map[string]interface{}{"domain": "acme.com"},
	})
	require.NoError(t, err)

	var companies []types.Company
	require.NoError(t, json.Unmarshal(resp.Data, &companies))
	require.Len(t, companies, 2)
	assert.Equal(t, "beta.com", companies[0].Domain)
}

func TestLookalikeCostsMore(t *testing.T) {
	p := newTestProvider(t, http.NewServeMux())
	assert.Equal(t, 2, p.CalculateCredits(types.OpFindLookalike))
	assert.Equal(t, 1, p.CalculateCredits(types.OpEnrichCompany))
}
