package surfe

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

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	p, err := New(types.ProviderDescriptor{
		ID:      ProviderID,
		BaseURL: ts.URL,
		SupportedOperations: []types.Operation{
			types.OpEnrichPerson, types.OpEnrichCompany, types.OpCheckEnrichmentStatus,
		},
	}, providers.Deps{
		HTTPClient:  ts.Client(),
		Credentials: staticCreds("sk-surfe"),
		Logger:      slog.Default(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Authenticate(context.Background(), "t1"))
	return p.(*Provider)
}

func TestEnrichPersonReturnsAsyncHandle(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/people/enrich", r.URL.Path)
		require.Equal(t, "Bearer sk-surfe", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		people, ok := body["people"].([]interface{})
		require.True(t, ok)
		require.Len(t, people, 1)

		json.NewEncoder(w).Encode(map[string]string{"enrichmentID": "abc123"})
	}))

	resp, err := p.Execute(context.Background(), &types.Request{
		Operation: types.OpEnrichPerson,
		Params:    map[string]interface{}{"email": "jane@example.com"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Async)
	assert.Equal(t, "people/abc123", resp.Async.EnrichmentID)
	assert.Equal(t, types.EnrichmentPending, resp.Async.Status)
}

func TestCheckEnrichmentInProgress(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/people/enrich/abc123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "IN_PROGRESS"})
	}))

	handle, err := p.CheckEnrichment(context.Background(), "people/abc123")
	require.NoError(t, err)
	assert.Equal(t, types.EnrichmentInProgress, handle.Status)
	assert.Nil(t, handle.Data)
}

func TestCheckEnrichmentCompletedMapsPeople(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "COMPLETED",
			"people": []map[string]interface{}{{
				"firstName":   "Jane",
				"lastName":    "Doe",
				"jobTitle":    "CTO",
				"companyName": "Acme",
				"emails":      []map[string]string{{"email": "jane@acme.com"}},
				"phones":      []map[string]string{{"number": "+123"}},
			}},
		})
	}))

	handle, err := p.CheckEnrichment(context.Background(), "people/abc123")
	require.NoError(t, err)
	require.Equal(t, types.EnrichmentCompleted, handle.Status)

	var people []types.Person
	require.NoError(t, json.Unmarshal(handle.Data, &people))
	require.Len(t, people, 1)
	assert.Equal(t, "Jane Doe", people[0].FullName)
	assert.Equal(t, "jane@acme.com", people[0].Email)
	assert.Equal(t, "+123", people[0].Phone)
	assert.Equal(t, "CTO", people[0].Title)
}

func TestCheckEnrichmentCompletedMapsOrganizations(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/organizations/enrich/org9", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "COMPLETED",
			"organizations": []map[string]interface{}{{
				"name":     "Acme",
				"domain":   "acme.com",
				"industry": "Software",
				"keywords": []string{"go", "saas"},
			}},
		})
	}))

	handle, err := p.CheckEnrichment(context.Background(), "organizations/org9")
	require.NoError(t, err)
	require.Equal(t, types.EnrichmentCompleted, handle.Status)

	var companies []types.Company
	require.NoError(t, json.Unmarshal(handle.Data, &companies))
	require.Len(t, companies, 1)
	assert.Equal(t, "acme.com", companies[0].Domain)
	assert.Equal(t, []string{"go", "saas"}, companies[0].Technologies)
}

func TestCheckEnrichmentMalformedID(t *testing.T) {
	p := newTestProvider(t, http.NewServeMux())
	_, err := p.CheckEnrichment(context.Background(), "no-kind-prefix")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.AsError(err).Code)
}

func TestAuthErrorMapping(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := p.Execute(context.Background(), &types.Request{
		Operation: types.OpEnrichPerson,
		Params:    map[string]interface{}{"email": "jane@example.com"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrAuth, types.AsError(err).Code)
}
