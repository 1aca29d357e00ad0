// Package settings resolves per-tenant provider credentials at enqueue time.
package settings

import (
	"context"
	"sync"

	"github.com/iago/imagegen-back/internal/domain"
)

// Resolver returns the provider settings for a tenant/scope pair, or nil
// when the tenant has no generation access configured. Disabled or missing
// settings are a permanent submission-time failure, never a retryable one.
type Resolver interface {
	ResolveProviderSettings(ctx context.Context, tenantID, scopeID string) (*domain.ProviderSettings, error)
}

// StaticResolver serves a default settings record plus per-tenant overrides.
// It backs single-tenant deployments and every test.
type StaticResolver struct {
	mu        sync.RWMutex
	fallback  *domain.ProviderSettings
	overrides map[string]domain.ProviderSettings
}

func NewStaticResolver(fallback *domain.ProviderSettings) *StaticResolver {
	return &StaticResolver{
		fallback:  fallback,
		overrides: make(map[string]domain.ProviderSettings),
	}
}

// SetOverride installs tenant-specific settings, keyed by tenant and scope.
func (r *StaticResolver) SetOverride(tenantID, scopeID string, settings domain.ProviderSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[overrideKey(tenantID, scopeID)] = settings
}

func (r *StaticResolver) ResolveProviderSettings(_ context.Context, tenantID, scopeID string) (*domain.ProviderSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if settings, ok := r.overrides[overrideKey(tenantID, scopeID)]; ok {
		copied := settings
		return &copied, nil
	}
	if r.fallback == nil {
		return nil, nil
	}
	copied := *r.fallback
	return &copied, nil
}

func overrideKey(tenantID, scopeID string) string {
	return tenantID + "/" + scopeID
}
