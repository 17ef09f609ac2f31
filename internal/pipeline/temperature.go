package pipeline

import (
	"fmt"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/registry"
)

// temperatureRange is a provider's accepted [min, max] sampling temperature.
type temperatureRange struct{ min, max float64 }

// providerTemperatureRanges holds each provider's accepted bounds; the
// Anthropic bound matches anthropic.clampTemperature, the only adapter that
// clamps (the others pass temperature through). The Pipeline validates up
// front so an out-of-range value surfaces as ValidationError at step 1
// rather than being silently clamped deep in an adapter.
var providerTemperatureRanges = map[registry.Provider]temperatureRange{
	registry.ProviderAnthropic: {min: 0, max: 1},
	registry.ProviderBedrock:   {min: 0, max: 1},
	registry.ProviderOpenAI:    {min: 0, max: 2},
	registry.ProviderGateway:   {min: 0, max: 2},
	registry.ProviderGoogle:    {min: 0, max: 2},
}

// validateTemperature rejects t outside provider's declared range. An
// unrecognized provider is not validated here; its adapter is responsible
// for its own bounds.
func validateTemperature(provider registry.Provider, t float64) error {
	r, ok := providerTemperatureRanges[provider]
	if !ok {
		return nil
	}
	if t < r.min || t > r.max {
		return conduiterr.New(conduiterr.ValidationError,
			fmt.Sprintf("temperature %.3f out of range [%.1f, %.1f] for provider %s", t, r.min, r.max, provider),
			nil)
	}
	return nil
}
