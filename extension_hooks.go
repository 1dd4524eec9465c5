package authflow

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-authflow/hosted"
	"github.com/goliatone/go-authflow/providers"
)

// IdpPack is a named group of IdP exchangers contributed by a host module.
type IdpPack struct {
	Name       string
	Exchangers []*providers.OAuth2Exchanger
}

type CommandQueryBundleFactory func(facade *Facade) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	idpPacks map[string]IdpPack
	bundles  map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		idpPacks: map[string]IdpPack{},
		bundles:  map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterIdpPack(pack IdpPack) error {
	if h == nil {
		return fmt.Errorf("authflow: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("authflow: idp pack name is required")
	}
	if len(pack.Exchangers) == 0 {
		return fmt.Errorf("authflow: idp pack %q has no exchangers", name)
	}
	for _, exchanger := range pack.Exchangers {
		if exchanger == nil {
			return fmt.Errorf("authflow: idp pack %q contains nil exchanger", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.idpPacks[name]; exists {
		return fmt.Errorf("authflow: idp pack %q already registered", name)
	}
	h.idpPacks[name] = IdpPack{
		Name:       name,
		Exchangers: append([]*providers.OAuth2Exchanger(nil), pack.Exchangers...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return fmt.Errorf("authflow: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("authflow: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("authflow: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("authflow: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyIdpPacks registers every pack exchanger with the task registry and,
// when initiator is set, as the initiator's authorization URL builder.
func (h *ExtensionHooks) ApplyIdpPacks(registry *providers.Registry, initiator *hosted.Initiator) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("authflow: idp registry is required")
	}
	for _, pack := range h.IdpPacks() {
		for _, exchanger := range pack.Exchangers {
			if err := registry.Register(exchanger); err != nil {
				return fmt.Errorf("authflow: idp pack %q: %w", pack.Name, err)
			}
			if initiator == nil {
				continue
			}
			if err := initiator.Register(exchanger.ID(), exchanger); err != nil {
				return fmt.Errorf("authflow: idp pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(facade *Facade) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if facade == nil {
		return nil, fmt.Errorf("authflow: facade is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		names = append(names, name)
		factories[name] = factory
	}
	h.mu.RUnlock()
	sort.Strings(names)

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](facade)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) IdpPacks() []IdpPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.idpPacks))
	for name := range h.idpPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]IdpPack, 0, len(names))
	for _, name := range names {
		pack := h.idpPacks[name]
		out = append(out, IdpPack{
			Name:       pack.Name,
			Exchangers: append([]*providers.OAuth2Exchanger(nil), pack.Exchangers...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
