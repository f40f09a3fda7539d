package providers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/prospectly/server/pkg/types"
)

// Factory constructs an unauthenticated provider from its descriptor.
type Factory func(desc types.ProviderDescriptor, deps Deps) (Provider, error)

// Deps are the collaborator handles injected into every provider.
type Deps struct {
	HTTPClient  *http.Client
	Credentials CredentialSource
	Logger      *slog.Logger
}

// Registry maps provider ids to factories and caches authenticated instances
// per (provider, tenant). Construction for the same key is single-flighted so
// concurrent misses never produce two instances.
type Registry struct {
	descriptors DescriptorSource
	deps        Deps
	logger      *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Provider

	group singleflight.Group
}

// NewRegistry creates an empty registry. Factories are registered explicitly
// at process start; nothing registers itself via import side effects.
func NewRegistry(descriptors DescriptorSource, deps Deps, logger *slog.Logger) *Registry {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger
	return &Registry{
		descriptors: descriptors,
		deps:        deps,
		logger:      logger.With("component", "registry"),
		factories:   make(map[string]Factory),
		instances:   make(map[string]Provider),
	}
}

// Register installs a factory for a provider id. Re-registration overwrites
// with a warning.
func (r *Registry) Register(providerID string, factory Factory) {
	id := strings.ToLower(providerID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		r.logger.Warn("provider factory re-registered, overwriting", "provider_id", id)
	}
	r.factories[id] = factory
}

func instanceKey(providerID, tenantID string) string {
	return providerID + "|" + tenantID
}

// Get returns the authenticated instance for (tenant, provider), building it
// on first use. Unknown ids yield NOT_FOUND before any credential is
// consulted. A failed Authenticate is never cached.
func (r *Registry) Get(ctx context.Context, tenantID, providerID string) (Provider, error) {
	id := strings.ToLower(strings.TrimSpace(providerID))
	key := instanceKey(id, tenantID)

	r.mu.RLock()
	if p, ok := r.instances[key]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	factory, known := r.factories[id]
	r.mu.RUnlock()

	if !known {
		return nil, types.Errorf(types.ErrNotFound, "unknown provider %q", providerID)
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have populated the
		// cache between the miss and the Do.
		r.mu.RLock()
		if p, ok := r.instances[key]; ok {
			r.mu.RUnlock()
			return p, nil
		}
		r.mu.RUnlock()

		desc, err := r.descriptors.Descriptor(ctx, id)
		if err != nil {
			return nil, err
		}

		p, err := factory(*desc, r.deps)
		if err != nil {
			return nil, types.Errorf(types.ErrInternal, "construct provider %s: %v", id, err)
		}
		if err := p.ValidateConfig(); err != nil {
			return nil, types.AsError(err)
		}
		if err := p.Authenticate(ctx, tenantID); err != nil {
			return nil, types.AsError(err)
		}

		r.mu.Lock()
		r.instances[key] = p
		r.mu.Unlock()

		r.logger.Debug("provider instance created", "provider_id", id, "tenant_id", tenantID)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Provider), nil
}

// Invalidate evicts the cached instance for (tenant, provider). Required
// after any credential mutation and on repeated AUTH failures.
func (r *Registry) Invalidate(tenantID, providerID string) {
	key := instanceKey(strings.ToLower(providerID), tenantID)
	r.mu.Lock()
	if _, ok := r.instances[key]; ok {
		delete(r.instances, key)
		r.logger.Debug("provider instance evicted", "provider_id", strings.ToLower(providerID), "tenant_id", tenantID)
	}
	r.mu.Unlock()
	r.group.Forget(key)
}

// Purge drops every cached instance.
func (r *Registry) Purge() {
	r.mu.Lock()
	r.instances = make(map[string]Provider)
	r.mu.Unlock()
}

// Known reports whether a factory is registered for providerID.
func (r *Registry) Known(providerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(providerID)]
	return ok
}
