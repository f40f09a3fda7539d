package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospectly/server/pkg/types"
)

func TestCleanDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Example.COM", "example.com"},
		{"https://www.example.com/path?q=1", "example.com"},
		{"http://example.co.uk:8080", "example.co.uk"},
		{"  example.com.  ", "example.com"},
		{"sub.domain.example.com", "sub.domain.example.com"},
	}
	for _, tc := range cases {
		got, err := CleanDomain(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestCleanDomainIdempotent(t *testing.T) {
	once, err := CleanDomain("HTTPS://WWW.Example.com/about")
	require.NoError(t, err)
	twice, err := CleanDomain(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestCleanDomainRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "not a domain", "http://", "just-text", ".com"} {
		_, err := CleanDomain(in)
		assert.Error(t, err, in)
	}
}

func TestCleanEmail(t *testing.T) {
	got, err := CleanEmail("  Jane.Doe@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@example.com", got)

	_, err = CleanEmail("nope")
	assert.Error(t, err)
}

func TestRecordFindEmailRequiresNameAndDomain(t *testing.T) {
	_, err := Record(types.OpFindEmail, map[string]interface{}{
		"company_domain": "example.com",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.AsError(err).Code)

	out, err := Record(types.OpFindEmail, map[string]interface{}{
		"company_domain": "https://www.Example.com",
		"first_name":     "Jane",
		"last_name":      "Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, "example.com", out["company_domain"])
}

func TestRecordFindEmailAcceptsFullName(t *testing.T) {
	_, err := Record(types.OpFindEmail, map[string]interface{}{
		"domain":    "example.com",
		"full_name": "Jane Doe",
	})
	assert.NoError(t, err)
}

func TestRecordEnrichPersonRequiresIdentifier(t *testing.T) {
	_, err := Record(types.OpEnrichPerson, map[string]interface{}{"first_name": "Jane"})
	require.Error(t, err)

	_, err = Record(types.OpEnrichPerson, map[string]interface{}{"email": "jane@example.com"})
	assert.NoError(t, err)

	_, err = Record(types.OpEnrichPerson, map[string]interface{}{"linkedin_url": "https://linkedin.com/in/jane"})
	assert.NoError(t, err)
}

func TestRecordEnrichCompany(t *testing.T) {
	_, err := Record(types.OpEnrichCompany, map[string]interface{}{"industry": "saas"})
	require.Error(t, err)

	out, err := Record(types.OpEnrichCompany, map[string]interface{}{"domain": "WWW.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "example.com", out["domain"])
}

func TestRecordDoesNotMutateInput(t *testing.T) {
	in := map[string]interface{}{"domain": "HTTPS://Example.com", "name": "Acme"}
	_, err := Record(types.OpEnrichCompany, in)
	require.NoError(t, err)
	assert.Equal(t, "HTTPS://Example.com", in["domain"])
}

func TestRecordCheckStatusRequiresID(t *testing.T) {
	_, err := Record(types.OpCheckEnrichmentStatus, map[string]interface{}{})
	require.Error(t, err)

	_, err = Record(types.OpCheckEnrichmentStatus, map[string]interface{}{"enrichment_id": "abc"})
	assert.NoError(t, err)
}

func TestRecordUnknownOperation(t *testing.T) {
	_, err := Record(types.Operation("mystery"), map[string]interface{}{"x": 1})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.AsError(err).Code)
}
