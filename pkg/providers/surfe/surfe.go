// Package surfe implements the Surfe enrichment provider. Surfe's enrich
// endpoints are asynchronous: the initial call returns an enrichment id and
// the result is fetched by polling.
package surfe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/prospectly/server/pkg/infrastructure/httputil"
	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/types"
)

const ProviderID = "surfe"

// Provider talks to the Surfe v2 API with a bearer token.
type Provider struct {
	desc   types.ProviderDescriptor
	creds  providers.CredentialSource
	base   *http.Client
	http   *http.Client
	logger *slog.Logger
}

// New is the registry factory.
func New(desc types.ProviderDescriptor, deps providers.Deps) (providers.Provider, error) {
	return &Provider{
		desc:   desc,
		creds:  deps.Credentials,
		base:   deps.HTTPClient,
		logger: deps.Logger.With("provider", ProviderID),
	}, nil
}

func (p *Provider) ID() string                          { return ProviderID }
func (p *Provider) Descriptor() types.ProviderDescriptor { return p.desc }

func (p *Provider) ValidateConfig() error {
	if p.desc.BaseURL == "" {
		return types.NewError(types.ErrInvalidInput, "surfe: base_url is required")
	}
	return nil
}

// Authenticate installs the tenant's API key as a static bearer token on the
// client. Surfe keys do not expire, so no refresh source is needed.
func (p *Provider) Authenticate(ctx context.Context, tenantID string) error {
	secret, err := p.creds.ActiveSecret(ctx, tenantID, ProviderID)
	if err != nil {
		return err
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: secret})
	p.http = &http.Client{
		Timeout: p.base.Timeout,
		Transport: &oauth2.Transport{
			Source: src,
			Base:   p.base.Transport,
		},
	}
	return nil
}

func (p *Provider) SupportedOperations() []types.Operation {
	return p.desc.SupportedOperations
}

func (p *Provider) CalculateCredits(op types.Operation) int {
	return 1
}

// Wire shapes for the v2 enrich endpoints.
type enrichStartResponse struct {
	EnrichmentID string `json:"enrichmentID"`
}

type personResult struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Emails      []struct {
		Email string `json:"email"`
	} `json:"emails"`
	Phones []struct {
		Number string `json:"number"`
	} `json:"phones"`
	JobTitle    string `json:"jobTitle"`
	CompanyName string `json:"companyName"`
	CompanyDomain string `json:"companyDomain"`
	LinkedInURL string `json:"linkedInUrl"`
	Location    string `json:"location"`
}

type peopleStatusResponse struct {
	Status string         `json:"status"`
	People []personResult `json:"people"`
}

type organizationResult struct {
	Name        string   `json:"name"`
	Domain      string   `json:"domain"`
	Description string   `json:"description"`
	Industry    string   `json:"industry"`
	Size        string   `json:"size"`
	HQCountry   string   `json:"hqCountry"`
	LinkedInURL string   `json:"linkedInUrl"`
	Keywords    []string `json:"keywords"`
}

type organizationStatusResponse struct {
	Status        string               `json:"status"`
	Organizations []organizationResult `json:"organizations"`
}

func (p *Provider) Execute(ctx context.Context, req *types.Request) (*types.Response, error) {
	switch req.Operation {
	case types.OpEnrichPerson:
		return p.startEnrichment(ctx, "people", map[string]interface{}{
			"include": map[string]bool{"email": true, "mobile": true, "linkedInUrl": true},
			"people":  []map[string]interface{}{personInput(req.Params)},
		})
	case types.OpEnrichCompany:
		return p.startEnrichment(ctx, "organizations", map[string]interface{}{
			"organizations": []map[string]interface{}{organizationInput(req.Params)},
		})
	case types.OpCheckEnrichmentStatus:
		id, _ := req.Params["enrichment_id"].(string)
		handle, err := p.CheckEnrichment(ctx, id)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(handle)
		if err != nil {
			return nil, err
		}
		return &types.Response{Data: data}, nil
	default:
		return nil, types.Errorf(types.ErrOperationUnsupported,
			"surfe does not support %s", req.Operation)
	}
}

func personInput(params map[string]interface{}) map[string]interface{} {
	in := map[string]interface{}{}
	copyKeys := map[string]string{
		"first_name":     "firstName",
		"last_name":      "lastName",
		"email":          "email",
		"linkedin_url":   "linkedInUrl",
		"company_domain": "companyDomain",
		"company":        "companyName",
	}
	for from, to := range copyKeys {
		if v, ok := params[from].(string); ok && v != "" {
			in[to] = v
		}
	}
	return in
}

func organizationInput(params map[string]interface{}) map[string]interface{} {
	in := map[string]interface{}{}
	if v, ok := params["domain"].(string); ok && v != "" {
		in["domain"] = v
	} else if v, ok := params["company_domain"].(string); ok && v != "" {
		in["domain"] = v
	}
	if v, ok := params["name"].(string); ok && v != "" {
		in["name"] = v
	}
	return in
}

// startEnrichment posts the batch and hands the enrichment id back to the
// dispatcher's poller. The id is prefixed with its kind so CheckEnrichment
// knows which status endpoint to hit.
func (p *Provider) startEnrichment(ctx context.Context, kind string, body map[string]interface{}) (*types.Response, error) {
	var started enrichStartResponse
	if err := p.doJSON(ctx, http.MethodPost, "/v2/"+kind+"/enrich", body, &started); err != nil {
		return nil, err
	}
	if started.EnrichmentID == "" {
		return nil, types.NewError(types.ErrProviderUnavailable, "surfe returned no enrichment id")
	}
	return &types.Response{Async: &types.AsyncEnrichment{
		EnrichmentID: kind + "/" + started.EnrichmentID,
		Status:       types.EnrichmentPending,
	}}, nil
}

// CheckEnrichment fetches the status of a pending enrichment.
func (p *Provider) CheckEnrichment(ctx context.Context, enrichmentID string) (*types.AsyncEnrichment, error) {
	kind, id, ok := strings.Cut(enrichmentID, "/")
	if !ok {
		return nil, types.Errorf(types.ErrInvalidInput, "malformed enrichment id %q", enrichmentID)
	}

	handle := &types.AsyncEnrichment{EnrichmentID: enrichmentID}
	switch kind {
	case "people":
		var status peopleStatusResponse
		if err := p.doJSON(ctx, http.MethodGet, "/v2/people/enrich/"+id, nil, &status); err != nil {
			return nil, err
		}
		handle.Status = mapState(status.Status)
		if handle.Status == types.EnrichmentCompleted {
			out := make([]types.Person, 0, len(status.People))
			for _, r := range status.People {
				out = append(out, mapPerson(r))
			}
			data, err := json.Marshal(out)
			if err != nil {
				return nil, err
			}
			handle.Data = data
		}
	case "organizations":
		var status organizationStatusResponse
		if err := p.doJSON(ctx, http.MethodGet, "/v2/organizations/enrich/"+id, nil, &status); err != nil {
			return nil, err
		}
		handle.Status = mapState(status.Status)
		if handle.Status == types.EnrichmentCompleted {
			out := make([]types.Company, 0, len(status.Organizations))
			for _, r := range status.Organizations {
				out = append(out, mapOrganization(r))
			}
			data, err := json.Marshal(out)
			if err != nil {
				return nil, err
			}
			handle.Data = data
		}
	default:
		return nil, types.Errorf(types.ErrInvalidInput, "unknown enrichment kind %q", kind)
	}
	return handle, nil
}

func mapState(s string) types.EnrichmentState {
	switch strings.ToUpper(s) {
	case "COMPLETED":
		return types.EnrichmentCompleted
	case "FAILED":
		return types.EnrichmentFailed
	case "IN_PROGRESS":
		return types.EnrichmentInProgress
	default:
		return types.EnrichmentPending
	}
}

func mapPerson(r personResult) types.Person {
	p := types.Person{
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		FullName:      strings.TrimSpace(r.FirstName + " " + r.LastName),
		Title:         r.JobTitle,
		Company:       r.CompanyName,
		CompanyDomain: r.CompanyDomain,
		LinkedInURL:   r.LinkedInURL,
		Location:      r.Location,
	}
	if len(r.Emails) > 0 {
		p.Email = r.Emails[0].Email
	}
	if len(r.Phones) > 0 {
		p.Phone = r.Phones[0].Number
	}
	return p
}

func mapOrganization(r organizationResult) types.Company {
	return types.Company{
		Name:         r.Name,
		Domain:       r.Domain,
		Description:  r.Description,
		Industry:     r.Industry,
		Size:         r.Size,
		Location:     r.HQCountry,
		LinkedInURL:  r.LinkedInURL,
		Technologies: r.Keywords,
	}
}

// HealthCheck issues an authorized status call.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

func (p *Provider) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if p.http == nil {
		return types.NewError(types.ErrAuth, "surfe client is not authenticated")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.desc.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
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
		return types.Errorf(types.ErrProviderUnavailable, "decode surfe response: %v", err)
	}
	return nil
}
