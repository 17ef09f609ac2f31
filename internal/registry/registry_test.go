package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acesanderson/conduit/internal/conduiterr"
)

func testManifest() []ManifestEntry {
	return []ManifestEntry{
		{
			CanonicalName: "claude-sonnet-4-5-20250929",
			Aliases:       []string{"sonnet"},
			Providers:     []Provider{ProviderAnthropic, ProviderBedrock},
			ContextWindow: 200_000,
		},
		{
			CanonicalName: "gpt-4o",
			Aliases:       []string{"gpt4o"},
			Providers:     []Provider{ProviderOpenAI},
			ContextWindow: 128_000,
		},
	}
}

func TestResolveCanonicalAndAlias(t *testing.T) {
	r := New(testManifest())

	name, err := r.Resolve("sonnet")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5-20250929", name)

	name, err = r.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", name)
}

func TestResolveUnknownFailsWithUnknownModel(t *testing.T) {
	r := New(testManifest())
	_, err := r.Resolve("nonexistent-model")
	require.Error(t, err)
	cerr, ok := conduiterr.As(err)
	require.True(t, ok)
	assert.Equal(t, conduiterr.UnknownModel, cerr.Kind)
}

func TestAliasesDoNotChainTwoHops(t *testing.T) {
	r := New(testManifest())
	r.aliases["double-alias"] = "sonnet" // points at an alias, not a canonical name
	_, err := r.Resolve("double-alias")
	assert.Error(t, err, "an alias resolving to another alias must not chase a second hop")
}

func TestProviderOfIsDeterministic(t *testing.T) {
	r := New(testManifest())
	p, err := r.ProviderOf("claude-sonnet-4-5-20250929")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, p, "the first provider in declaration order wins")
}

func TestContextWindowOverrideWins(t *testing.T) {
	r := New(testManifest())
	cw, err := r.ContextWindow("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, 128_000, cw)

	r.SetContextWindowOverride("gpt-4o", 64_000)
	cw, err = r.ContextWindow("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, 64_000, cw)
}

func TestIsSupported(t *testing.T) {
	r := New(testManifest())
	assert.True(t, r.IsSupported("gpt-4o"))
	assert.False(t, r.IsSupported("nonexistent-model"))
}

func TestReconcileDropsAndAddsEntries(t *testing.T) {
	r := New(testManifest())
	require.True(t, r.IsSupported("gpt-4o"))

	r.Reconcile([]ManifestEntry{
		{CanonicalName: "claude-sonnet-4-5-20250929", Providers: []Provider{ProviderAnthropic}, ContextWindow: 200_000},
		{CanonicalName: "new-model", Providers: []Provider{ProviderGateway}, ContextWindow: 32_000},
	})

	assert.False(t, r.IsSupported("gpt-4o"), "reconcile must drop entries the new manifest no longer names")
	assert.True(t, r.IsSupported("new-model"))
}

func TestRegisterDiscoveredMergesWithoutDroppingExisting(t *testing.T) {
	r := New(testManifest())
	r.RegisterDiscovered([]ManifestEntry{
		{CanonicalName: "llama3.3", Providers: []Provider{ProviderGateway}, ContextWindow: 128_000},
	})
	assert.True(t, r.IsSupported("llama3.3"))
	assert.True(t, r.IsSupported("gpt-4o"), "registering discovered models must not drop existing entries")
}
