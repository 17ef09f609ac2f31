// Package registry implements the ModelRegistry: a static, read-mostly
// catalog of model identities, aliases, per-provider membership, and
// context-window sizes.
package registry

import (
	"sync"

	"github.com/acesanderson/conduit/internal/conduiterr"
)

// Provider is the tagged-variant identifying which adapter family serves a
// model (§9 "Dynamic provider dispatch" design note). It is the sole
// coupling point between the registry and the provider adapter factory.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderBedrock   Provider = "bedrock"
	ProviderGoogle    Provider = "google"
	ProviderGateway   Provider = "gateway" // OpenAI-compatible local inference host
)

// ManifestEntry describes one canonical model as shipped in the bundled
// manifest, a locally-discovered model, or an operator override source.
type ManifestEntry struct {
	CanonicalName string
	Aliases       []string
	Providers     []Provider
	ContextWindow int
}

// entry is the registry's internal, resolved view of one canonical model.
type entry struct {
	providers     []Provider
	contextWindow int
}

// Registry is the ModelRegistry. Safe for concurrent readers; mutation
// (Reconcile, SetContextWindowOverride, RegisterDiscovered) is exclusive.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	aliases   map[string]string // alias -> canonical name, one hop
	overrides map[string]int    // canonical name -> operator context-window override
}

// New builds a Registry from a bundled manifest.
func New(manifest []ManifestEntry) *Registry {
	r := &Registry{
		entries:   make(map[string]*entry),
		aliases:   make(map[string]string),
		overrides: make(map[string]int),
	}
	r.load(manifest)
	return r
}

func (r *Registry) load(manifest []ManifestEntry) {
	entries := make(map[string]*entry, len(manifest))
	aliases := make(map[string]string)
	for _, m := range manifest {
		entries[m.CanonicalName] = &entry{
			providers:     append([]Provider(nil), m.Providers...),
			contextWindow: m.ContextWindow,
		}
		for _, a := range m.Aliases {
			aliases[a] = m.CanonicalName
		}
	}
	r.entries = entries
	r.aliases = aliases
}

// Resolve maps an alias or canonical name to its canonical name. Aliases
// resolve transitively once: an alias pointing at another alias is not
// chased a second hop. Unknown names fail with conduiterr.UnknownModel.
func (r *Registry) Resolve(aliasOrName string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.entries[aliasOrName]; ok {
		return aliasOrName, nil
	}
	if canonical, ok := r.aliases[aliasOrName]; ok {
		if _, ok := r.entries[canonical]; ok {
			return canonical, nil
		}
	}
	return "", conduiterr.New(conduiterr.UnknownModel, "unknown model: "+aliasOrName, nil)
}

// ProviderOf returns the first provider whose membership list contains name,
// deterministically (declaration order in the manifest entry).
func (r *Registry) ProviderOf(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok || len(e.providers) == 0 {
		return "", conduiterr.New(conduiterr.UnknownModel, "unknown model: "+name, nil)
	}
	return e.providers[0], nil
}

// ContextWindow returns name's context window: the operator override wins
// over the provider manifest value when both are present.
func (r *Registry) ContextWindow(name string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return 0, conduiterr.New(conduiterr.UnknownModel, "unknown model: "+name, nil)
	}
	if override, ok := r.overrides[name]; ok {
		return override, nil
	}
	return e.contextWindow, nil
}

// IsSupported reports whether name is a known canonical model.
func (r *Registry) IsSupported(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// SetContextWindowOverride records an operator-provided context-window
// override for name, which takes precedence over the provider manifest.
func (r *Registry) SetContextWindowOverride(name string, window int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = window
}

// RegisterDiscovered merges locally-discovered models (reported by a local
// inference host) into the catalog without disturbing existing entries.
func (r *Registry) RegisterDiscovered(discovered []ManifestEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range discovered {
		r.entries[m.CanonicalName] = &entry{
			providers:     append([]Provider(nil), m.Providers...),
			contextWindow: m.ContextWindow,
		}
		for _, a := range m.Aliases {
			r.aliases[a] = m.CanonicalName
		}
	}
}

// Reconcile is the registry's sole bulk mutator: it replaces the catalog
// with manifest, deleting entries manifest no longer names and creating
// entries it newly names, while preserving operator context-window
// overrides (those are keyed by canonical name, not by manifest presence).
func (r *Registry) Reconcile(manifest []ManifestEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load(manifest)
}
