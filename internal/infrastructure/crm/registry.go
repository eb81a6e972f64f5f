package crm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/crmgateway/backend/internal/domain/integration"
)

// Constructor builds an unauthenticated provider from a connection's config map.
type Constructor func(config map[string]any) (integration.Provider, error)

// Registry maps CRM type tags to provider constructors. Adding a vendor is a
// Register call, not an edit to a switch.
type Registry struct {
	mu           sync.RWMutex
	constructors map[integration.CRMType]Constructor
}

var _ integration.ProviderFactory = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[integration.CRMType]Constructor),
	}
}

// NewDefaultRegistry registers every built-in adapter.
func NewDefaultRegistry(hubspot *HubSpotConfig) (*Registry, error) {
	if hubspot == nil {
		hubspot = DefaultHubSpotConfig()
	}
	if err := hubspot.Validate(); err != nil {
		return nil, err
	}

	r := NewRegistry()
	if err := r.Register(integration.CRMTypeHubSpot, HubSpotConstructor(hubspot)); err != nil {
		return nil, err
	}
	return r, nil
}

// HubSpotConstructor returns a Constructor sharing one application config.
// Endpoints come from operator config only; a connection's config map is
// tenant input and never selects the host credentials are sent to.
func HubSpotConstructor(base *HubSpotConfig) Constructor {
	return func(map[string]any) (integration.Provider, error) {
		cfg := *base
		return NewHubSpotAdapter(&cfg)
	}
}

// Register adds a constructor for crmType
func (r *Registry) Register(crmType integration.CRMType, ctor Constructor) error {
	if crmType.IsEmpty() {
		return fmt.Errorf("crm registry: CRM type cannot be empty")
	}
	if ctor == nil {
		return fmt.Errorf("crm registry: constructor for %s is nil", crmType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[crmType]; exists {
		return fmt.Errorf("crm registry: %s is already registered", crmType)
	}
	r.constructors[crmType] = ctor
	return nil
}

// Get returns the constructor for crmType
func (r *Registry) Get(crmType integration.CRMType) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctor, exists := r.constructors[crmType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedCRMType, crmType)
	}
	return ctor, nil
}

// Has checks if crmType is registered
func (r *Registry) Has(crmType integration.CRMType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.constructors[crmType]
	return exists
}

// List returns the registered CRM types in sorted order
func (r *Registry) List() []integration.CRMType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]integration.CRMType, 0, len(r.constructors))
	for t := range r.constructors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// NewProvider implements integration.ProviderFactory
func (r *Registry) NewProvider(crmType integration.CRMType, config map[string]any) (integration.Provider, error) {
	ctor, err := r.Get(crmType)
	if err != nil {
		return nil, err
	}
	return ctor(config)
}
