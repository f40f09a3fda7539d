// Package hunter implements the Hunter.io email finder. Hunter authenticates
// with an api_key query parameter and answers synchronously.
package hunter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/prospectly/server/pkg/infrastructure/httputil"
	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/types"
)

const ProviderID = "hunter"

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
func (p *Provider) CalculateCredits(op types.Operation) int { return 1 }

func (p *Provider) ValidateConfig() error {
	if p.desc.BaseURL == "" {
		return types.NewError(types.ErrInvalidInput, "hunter: base_url is required")
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

// finderResponse is the /email-finder envelope.
type finderResponse struct {
	Data struct {
		Email      string `json:"email"`
		Score      int    `json:"score"`
		Verification struct {
			Status string `json:"status"`
		} `json:"verification"`
		Sources []struct {
			URI string `json:"uri"`
		} `json:"sources"`
	} `json:"data"`
}

func (p *Provider) Execute(ctx context.Context, req *types.Request) (*types.Response, error) {
	if req.Operation != types.OpFindEmail {
		return nil, types.Errorf(types.ErrOperationUnsupported,
			"hunter does not support %s", req.Operation)
	}

	q := url.Values{}
	domain, _ := req.Params["company_domain"].(string)
	if domain == "" {
		domain, _ = req.Params["domain"].(string)
	}
	q.Set("domain", domain)
	if v, ok := req.Params["full_name"].(string); ok && v != "" {
		q.Set("full_name", v)
	} else {
		if v, ok := req.Params["first_name"].(string); ok {
			q.Set("first_name", v)
		}
		if v, ok := req.Params["last_name"].(string); ok {
			q.Set("last_name", v)
		}
	}

	var found finderResponse
	if err := p.doJSON(ctx, "/email-finder", q, &found); err != nil {
		return nil, err
	}
	if found.Data.Email == "" {
		return nil, types.NewError(types.ErrNotFound, "no email found")
	}

	result := types.EmailResult{
		Email:      found.Data.Email,
		Confidence: float64(found.Data.Score) / 100,
		Verified:   found.Data.Verification.Status == "valid",
	}
	if n := len(found.Data.Sources); n > 0 {
		result.Additional = map[string]interface{}{"sources": n}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &types.Response{Data: data}, nil
}

// HealthCheck verifies the key against the account endpoint.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.doJSON(ctx, "/account", url.Values{}, nil)
}

func (p *Provider) doJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	if p.apiKey == "" {
		return types.NewError(types.ErrAuth, "hunter client is not authenticated")
	}
	q.Set("api_key", p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.desc.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
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
		return types.Errorf(types.ErrProviderUnavailable, "decode hunter response: %v", err)
	}
	return nil
}
