package registry

// DefaultManifest is the bundled catalog of well-known models. Context
// windows are the vendor-published figures at the time of writing; operators
// override them via SetContextWindowOverride when a deployment differs.
var DefaultManifest = []ManifestEntry{
	{
		CanonicalName: "claude-sonnet-4-5-20250929",
		Aliases:       []string{"claude-sonnet-4.5", "sonnet"},
		Providers:     []Provider{ProviderAnthropic, ProviderBedrock},
		ContextWindow: 200_000,
	},
	{
		CanonicalName: "claude-opus-4-1-20250805",
		Aliases:       []string{"claude-opus-4.1", "opus"},
		Providers:     []Provider{ProviderAnthropic, ProviderBedrock},
		ContextWindow: 200_000,
	},
	{
		CanonicalName: "claude-haiku-4-5-20251001",
		Aliases:       []string{"claude-haiku-4.5", "haiku"},
		Providers:     []Provider{ProviderAnthropic, ProviderBedrock},
		ContextWindow: 200_000,
	},
	{
		CanonicalName: "gpt-4o",
		Aliases:       []string{"gpt4o"},
		Providers:     []Provider{ProviderOpenAI},
		ContextWindow: 128_000,
	},
	{
		CanonicalName: "gpt-4o-mini",
		Aliases:       []string{"gpt4o-mini"},
		Providers:     []Provider{ProviderOpenAI},
		ContextWindow: 128_000,
	},
	{
		CanonicalName: "o3-mini",
		Providers:     []Provider{ProviderOpenAI},
		ContextWindow: 200_000,
	},
	{
		CanonicalName: "gemini-2.5-pro",
		Aliases:       []string{"gemini-pro"},
		Providers:     []Provider{ProviderGoogle, ProviderOpenAI},
		ContextWindow: 1_000_000,
	},
	{
		CanonicalName: "gemini-2.5-flash",
		Aliases:       []string{"gemini-flash"},
		Providers:     []Provider{ProviderGoogle, ProviderOpenAI},
		ContextWindow: 1_000_000,
	},
	{
		CanonicalName: "llama3.3",
		Providers:     []Provider{ProviderGateway},
		ContextWindow: 128_000,
	},
}
