// Package apollo implements the Apollo.io provider. Apollo authenticates
// with an X-Api-Key header and answers synchronously. Responses vary with the
// key's plan, so the catalog marks it cache_per_tenant.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/prospectly/server/pkg/infrastructure/httputil"
	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/types"
)

const ProviderID = "apollo"

type Provider struct {
	desc   types.ProviderDescriptor
	creds  providers.CredentialSource
	http   *http.Client
	logger *slog.Logger

	apiKey string
}

// New is the registry factory.
func New(desc types.ProviderDescriptor, deps providers.Deps) (providers.Provider, error) {
	return &Provider{
		desc:   desc,
		creds:  deps.Credentials,
		http:   deps.HTTPClient,
		logger: deps.Logger.With("provider", ProviderID),
	}, nil
}

func (p *Provider) ID() string                            { return ProviderID }
func (p *Provider) Descriptor() types.ProviderDescriptor  { return p.desc }
func (p *Provider) SupportedOperations() []types.Operation { return p.desc.SupportedOperations }
func (p *Provider) CalculateCredits(op types.Operation) int { return 1 }

func (p *Provider) ValidateConfig() error {
	if p.desc.BaseURL == "" {
		return types.NewError(types.ErrInvalidInput, "apollo: base_url is required")
	}
	return nil
}

func (p *Provider) Authenticate(ctx context.Context, tenantID string) error {
	secret, err := p.creds.ActiveSecret(ctx, tenantID, ProviderID)
	if err != nil {
		return err
	}
	p.apiKey = secret
	return nil
}

// Wire shapes.
type apolloPerson struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Title        string `json:"title"`
	LinkedInURL  string `json:"linkedin_url"`
	City         string `json:"city"`
	Country      string `json:"country"`
	Organization *apolloOrganization `json:"organization"`
}

type apolloOrganization struct {
	Name           string   `json:"name"`
	PrimaryDomain  string   `json:"primary_domain"`
	Industry       string   `json:"industry"`
	EstimatedCount int      `json:"estimated_num_employees"`
	ShortDesc      string   `json:"short_description"`
	LinkedInURL    string   `json:"linkedin_url"`
	City           string   `json:"city"`
	Country        string   `json:"country"`
	Technologies   []string `json:"technology_names"`
}

type matchResponse struct {
	Person *apolloPerson `json:"person"`
}

type orgEnrichResponse struct {
	Organization *apolloOrganization `json:"organization"`
}

type peopleSearchResponse struct {
	People []apolloPerson `json:"people"`
}

type orgSearchResponse struct {
	Organizations []apolloOrganization `json:"organizations"`
}

func (p *Provider) Execute(ctx context.Context, req *types.Request) (*types.Response, error) {
	switch req.Operation {
	case types.OpEnrichPerson:
		return p.enrichPerson(ctx, req.Params)
	case types.OpEnrichCompany:
		return p.enrichCompany(ctx, req.Params)
	case types.OpSearchPeople:
		return p.searchPeople(ctx, req.Params)
	case types.OpSearchCompanies:
		return p.searchCompanies(ctx, req.Params)
	default:
		return nil, types.Errorf(types.ErrOperationUnsupported,
			"apollo does not support %s", req.Operation)
	}
}

func (p *Provider) enrichPerson(ctx context.Context, params map[string]interface{}) (*types.Response, error) {
	body := map[string]interface{}{}
	for from, to := range map[string]string{
		"email":        "email",
		"first_name":   "first_name",
		"last_name":    "last_name",
		"linkedin_url": "linkedin_url",
		"company":      "organization_name",
		"company_domain": "domain",
	} {
		if v, ok := params[from].(string); ok && v != "" {
			body[to] = v
		}
	}

	var matched matchResponse
	if err := p.doJSON(ctx, http.MethodPost, "/people/match", nil, body, &matched); err != nil {
		return nil, err
	}
	if matched.Person == nil {
		return nil, types.NewError(types.ErrNotFound, "no matching person")
	}
	return payload(mapPerson(*matched.Person))
}

func (p *Provider) enrichCompany(ctx context.Context, params map[string]interface{}) (*types.Response, error) {
	domain, _ := params["domain"].(string)
	if domain == "" {
		domain, _ = params["company_domain"].(string)
	}
	q := url.Values{"domain": {domain}}

	var enriched orgEnrichResponse
	if err := p.doJSON(ctx, http.MethodGet, "/organizations/enrich", q, nil, &enriched); err != nil {
		return nil, err
	}
	if enriched.Organization == nil {
		return nil, types.NewError(types.ErrNotFound, "no matching organization")
	}
	return payload(mapOrganization(*enriched.Organization))
}

func (p *Provider) searchPeople(ctx context.Context, params map[string]interface{}) (*types.Response, error) {
	var found peopleSearchResponse
	if err := p.doJSON(ctx, http.MethodPost, "/mixed_people/search", nil, searchBody(params), &found); err != nil {
		return nil, err
	}
	out := make([]types.Person, 0, len(found.People))
	for _, r := range found.People {
		out = append(out, mapPerson(r))
	}
	return payload(out)
}

func (p *Provider) searchCompanies(ctx context.Context, params map[string]interface{}) (*types.Response, error) {
	var found orgSearchResponse
	if err := p.doJSON(ctx, http.MethodPost, "/mixed_companies/search", nil, searchBody(params), &found); err != nil {
		return nil, err
	}
	out := make([]types.Company, 0, len(found.Organizations))
	for _, r := range found.Organizations {
		out = append(out, mapOrganization(r))
	}
	return payload(out)
}

// searchBody passes caller filters through with Apollo's paging defaults.
func searchBody(params map[string]interface{}) map[string]interface{} {
	body := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		body[k] = v
	}
	if _, ok := body["page"]; !ok {
		body["page"] = 1
	}
	if _, ok := body["per_page"]; !ok {
		body["per_page"] = 25
	}
	return body
}

func payload(v interface{}) (*types.Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &types.Response{Data: data}, nil
}

func mapPerson(r apolloPerson) types.Person {
	out := types.Person{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		FullName:    r.Name,
		Email:       r.Email,
		Title:       r.Title,
		LinkedInURL: r.LinkedInURL,
		Location:    location(r.City, r.Country),
	}
	if r.Organization != nil {
		out.Company = r.Organization.Name
		out.CompanyDomain = r.Organization.PrimaryDomain
	}
	return out
}

func mapOrganization(r apolloOrganization) types.Company {
	size := ""
	if r.EstimatedCount > 0 {
		size = fmt.Sprintf("%d", r.EstimatedCount)
	}
	return types.Company{
		Name:         r.Name,
		Domain:       r.PrimaryDomain,
		Description:  r.ShortDesc,
		Industry:     r.Industry,
		Size:         size,
		Location:     location(r.City, r.Country),
		LinkedInURL:  r.LinkedInURL,
		Technologies: r.Technologies,
	}
}

func location(city, country string) string {
	parts := make([]string, 0, 2)
	if city != "" {
		parts = append(parts, city)
	}
	if country != "" {
		parts = append(parts, country)
	}
	return strings.Join(parts, ", ")
}

// HealthCheck verifies the key against the auth health endpoint.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.doJSON(ctx, http.MethodGet, "/auth/health", nil, nil, nil)
}

func (p *Provider) doJSON(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if p.apiKey == "" {
		return types.NewError(types.ErrAuth, "apollo client is not authenticated")
	}

	endpoint := p.desc.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("Cache-Control", "no-cache")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return httputil.MapTransportError(err)
	}
	defer resp.Body.Close()

	if apiErr := httputil.CheckResponse(resp); apiErr != nil {
		return apiErr
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.Errorf(types.ErrProviderUnavailable, "decode apollo response: %v", err)
	}
	return nil
}
