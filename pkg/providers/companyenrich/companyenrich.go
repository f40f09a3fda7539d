// Package companyenrich implements the CompanyEnrich provider: synchronous
// company enrichment and lookalike discovery over HTTP basic auth, with the
// API key as the username.
package companyenrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prospectly/server/pkg/infrastructure/httputil"
	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/types"
)

const ProviderID = "companyenrich"

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

func (p *Provider) ID() string                             { return ProviderID }
func (p *Provider) Descriptor() types.ProviderDescriptor   { return p.desc }
func (p *Provider) SupportedOperations() []types.Operation { return p.desc.SupportedOperations }

func (p *Provider) CalculateCredits(op types.Operation) int {
	if op == types.OpFindLookalike {
		return 2
	}
	return 1
}

func (p *Provider) ValidateConfig() error {
	if p.desc.BaseURL == "" {
		return types.NewError(types.ErrInvalidInput, "companyenrich: base_url is required")
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

type companyResult struct {
	Name        string   `json:"name"`
	Domain      string   `json:"domain"`
	Description string   `json:"description"`
	Industry    string   `json:"industry"`
	Size        string   `json:"size"`
	Country     string   `json:"country"`
	LinkedInURL string   `json:"linkedin_url"`
	Tech        []string `json:"technologies"`
}

type similarResponse struct {
	Companies []companyResult `json:"companies"`
}

func (p *Provider) Execute(ctx context.Context, req *types.Request) (*types.Response, error) {
	switch req.Operation {
	case types.OpEnrichCompany:
		var enriched companyResult
		if err := p.doJSON(ctx, http.MethodPost, "/companies/enrich", companyBody(req.Params), &enriched); err != nil {
			return nil, err
		}
		if enriched.Domain == "" && enriched.Name == "" {
			return nil, types.NewError(types.ErrNotFound, "no matching company")
		}
		return payload(mapCompany(enriched))
	case types.OpFindLookalike:
		var similar similarResponse
		if err := p.doJSON(ctx, http.MethodPost, "/companies/similar", companyBody(req.Params), &similar); err != nil {
			return nil, err
		}
		out := make([]types.Company, 0, len(similar.Companies))
		for _, r := range similar.Companies {
			out = append(out, mapCompany(r))
		}
		return payload(out)
	default:
		return nil, types.Errorf(types.ErrOperationUnsupported,
			"companyenrich does not support %s", req.Operation)
	}
}

func companyBody(params map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{}
	if v, ok := params["domain"].(string); ok && v != "" {
		body["domain"] = v
	} else if v, ok := params["company_domain"].(string); ok && v != "" {
		body["domain"] = v
	}
	if v, ok := params["name"].(string); ok && v != "" {
		body["name"] = v
	}
	if v, ok := params["limit"]; ok {
		body["limit"] = v
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

func mapCompany(r companyResult) types.Company {
	return types.Company{
		Name:         r.Name,
		Domain:       r.Domain,
		Description:  r.Description,
		Industry:     r.Industry,
		Size:         r.Size,
		Location:     r.Country,
		LinkedInURL:  r.LinkedInURL,
		Technologies: r.Tech,
	}
}

// HealthCheck issues an authorized status call.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.doJSON(ctx, http.MethodGet, "/ping", nil, nil)
}

func (p *Provider) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	if p.apiKey == "" {
		return types.NewError(types.ErrAuth, "companyenrich client is not authenticated")
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
	httpReq.SetBasicAuth(p.apiKey, "")
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
		return types.Errorf(types.ErrProviderUnavailable, "decode companyenrich response: %v", err)
	}
	return nil
}
