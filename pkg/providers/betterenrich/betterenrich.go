// Package betterenrich implements the BetterEnrich AI research provider. All
// of its operations run as async tasks: the initial call returns a task id
// and results are fetched by polling.
package betterenrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prospectly/server/pkg/infrastructure/httputil"
	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/types"
)

const ProviderID = "betterenrich"

type Provider struct {
	desc   types.ProviderDescriptor
	creds  providers.CredentialSource
	http   *http.Client
	logger *slog.Logger

	token string
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

// CalculateCredits reflects the waterfall pricing: person research burns more
// credits than a plain email lookup.
func (p *Provider) CalculateCredits(op types.Operation) int {
	switch op {
	case types.OpEnrichPerson:
		return 3
	case types.OpFindEmail:
		return 2
	default:
		return 1
	}
}

func (p *Provider) ValidateConfig() error {
	if p.desc.BaseURL == "" {
		return types.NewError(types.ErrInvalidInput, "betterenrich: base_url is required")
	}
	return nil
}

func (p *Provider) Authenticate(ctx context.Context, tenantID string) error {
	secret, err := p.creds.ActiveSecret(ctx, tenantID, ProviderID)
	if err != nil {
		return err
	}
	p.token = secret
	return nil
}

type taskStartResponse struct {
	TaskID string `json:"task_id"`
}

type taskStatusResponse struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (p *Provider) Execute(ctx context.Context, req *types.Request) (*types.Response, error) {
	switch req.Operation {
	case types.OpFindEmail:
		return p.startTask(ctx, "/async/email/find", req.Params)
	case types.OpEnrichPerson:
		return p.startTask(ctx, "/async/person/enrich", req.Params)
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
			"betterenrich does not support %s", req.Operation)
	}
}

func (p *Provider) startTask(ctx context.Context, path string, params map[string]interface{}) (*types.Response, error) {
	var started taskStartResponse
	if err := p.doJSON(ctx, http.MethodPost, path, params, &started); err != nil {
		return nil, err
	}
	if started.TaskID == "" {
		return nil, types.NewError(types.ErrProviderUnavailable, "betterenrich returned no task id")
	}
	return &types.Response{Async: &types.AsyncEnrichment{
		EnrichmentID: started.TaskID,
		Status:       types.EnrichmentPending,
	}}, nil
}

// CheckEnrichment fetches a task's status.
func (p *Provider) CheckEnrichment(ctx context.Context, enrichmentID string) (*types.AsyncEnrichment, error) {
	var status taskStatusResponse
	if err := p.doJSON(ctx, http.MethodGet, "/tasks/"+enrichmentID, nil, &status); err != nil {
		return nil, err
	}

	handle := &types.AsyncEnrichment{EnrichmentID: enrichmentID}
	switch strings.ToLower(status.Status) {
	case "completed":
		handle.Status = types.EnrichmentCompleted
		handle.Data = status.Result
	case "failed":
		handle.Status = types.EnrichmentFailed
	case "running", "in_progress":
		handle.Status = types.EnrichmentInProgress
	default:
		handle.Status = types.EnrichmentPending
	}
	return handle, nil
}

// HealthCheck issues an authorized status call.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

func (p *Provider) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	if p.token == "" {
		return types.NewError(types.ErrAuth, "betterenrich client is not authenticated")
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
	httpReq.Header.Set("Authorization", "Bearer "+p.token)
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
		return types.Errorf(types.ErrProviderUnavailable, "decode betterenrich response: %v", err)
	}
	return nil
}
