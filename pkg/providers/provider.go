// Package providers defines the uniform provider contract and the per-tenant
// instance registry. A provider converts normalized params into its wire
// form, issues HTTP calls through its injected client, and maps responses
// back into the canonical types. Providers never retry internally; the
// dispatcher owns retry policy.
package providers

import (
	"context"

	"github.com/prospectly/server/pkg/types"
)

// Provider is the capability set every enrichment provider implements.
type Provider interface {
	// ID returns the lowercase provider identifier (e.g. "hunter").
	ID() string

	// Descriptor returns the static configuration this instance was built
	// from.
	Descriptor() types.ProviderDescriptor

	// ValidateConfig checks the descriptor for provider-specific
	// requirements. Called once at construction, before Authenticate.
	ValidateConfig() error

	// Authenticate resolves and installs the tenant's active credential.
	// A failed Authenticate prevents the instance from being cached.
	Authenticate(ctx context.Context, tenantID string) error

	// SupportedOperations lists the operations this provider can execute.
	SupportedOperations() []types.Operation

	// Execute performs one operation. It returns a success response, or a
	// *types.Error describing the failure in the normalized taxonomy. The
	// dispatcher fills response metadata; providers only supply Data (and
	// Async for poll-to-completion operations).
	Execute(ctx context.Context, req *types.Request) (*types.Response, error)

	// CalculateCredits returns the credit cost of one successful call.
	CalculateCredits(op types.Operation) int

	// HealthCheck verifies the provider is reachable with the installed
	// credential.
	HealthCheck(ctx context.Context) error
}

// AsyncProvider is implemented by providers whose operations return an
// enrichment id to be polled until a terminal state. The dispatcher's poller
// drives CheckEnrichment; the whole sequence counts as a single dispatch
// attempt.
type AsyncProvider interface {
	Provider
	CheckEnrichment(ctx context.Context, enrichmentID string) (*types.AsyncEnrichment, error)
}

// CredentialSource resolves the decrypted active secret for a
// (tenant, provider) pair. Implemented by the credential store.
type CredentialSource interface {
	ActiveSecret(ctx context.Context, tenantID, providerID string) (string, error)
}

// DescriptorSource loads provider descriptors from durable storage.
type DescriptorSource interface {
	Descriptor(ctx context.Context, providerID string) (*types.ProviderDescriptor, error)
	Descriptors(ctx context.Context) ([]*types.ProviderDescriptor, error)
}
