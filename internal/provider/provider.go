// Package provider defines the adapter contract every vendor-specific
// translator implements, and the tagged-variant factory that is the sole
// coupling point between the ModelRegistry and the adapters themselves.
package provider

import (
	"context"

	"github.com/acesanderson/conduit/internal/registry"
	"github.com/acesanderson/conduit/internal/request"
)

// Adapter translates a neutral GenerationRequest into a vendor wire payload,
// executes it, and normalizes the wire reply back into a GenerationResponse
// (§4.5). Implementations must map vendor failures onto the conduiterr.Kind
// taxonomy (§7) rather than leaking SDK-specific error types.
type Adapter interface {
	// Translate builds the vendor wire payload for req. The returned value is
	// adapter-specific (opaque to the pipeline).
	Translate(ctx context.Context, req *request.Request) (any, error)

	// Execute performs the vendor call. cancellation is honored for
	// in-flight abort (§5 "Batch-level cancellation... must abort in-flight
	// HTTP calls").
	Execute(ctx context.Context, wirePayload any) (any, error)

	// Normalize maps a wire reply back into a GenerationResponse. elapsedMs
	// is supplied by the caller (the pipeline owns timing, §4.9 step 4).
	Normalize(ctx context.Context, wireReply any, req *request.Request, elapsedMs int64) (*request.Response, error)
}

// Factory resolves a canonical model name to the Adapter that serves it. It
// is the sole coupling point between ModelRegistry and the adapter layer
// (§9 "Dynamic provider dispatch").
type Factory struct {
	reg     *registry.Registry
	byKind  map[registry.Provider]Adapter
}

// NewFactory builds a Factory over the given registry and one adapter per
// provider variant actually configured. Unconfigured providers are simply
// absent from adapters; AdapterFor on an unconfigured provider fails.
func NewFactory(reg *registry.Registry, adapters map[registry.Provider]Adapter) *Factory {
	return &Factory{reg: reg, byKind: adapters}
}

// AdapterFor resolves canonicalModel's provider via the registry and returns
// the configured Adapter for it.
func (f *Factory) AdapterFor(canonicalModel string) (Adapter, registry.Provider, error) {
	p, err := f.reg.ProviderOf(canonicalModel)
	if err != nil {
		return nil, "", err
	}
	a, ok := f.byKind[p]
	if !ok {
		return nil, p, &unconfiguredProviderError{provider: p}
	}
	return a, p, nil
}

type unconfiguredProviderError struct{ provider registry.Provider }

func (e *unconfiguredProviderError) Error() string {
	return "provider: no adapter configured for " + string(e.provider)
}
