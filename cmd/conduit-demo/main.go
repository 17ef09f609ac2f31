// Command conduit-demo exercises a minimal Conduit end to end: one Query
// call and one Batch call against whichever providers have an API key set
// in the environment.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/acesanderson/conduit/internal/batch"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/provider"
	"github.com/acesanderson/conduit/internal/provider/anthropic"
	"github.com/acesanderson/conduit/internal/provider/openai"
	"github.com/acesanderson/conduit/internal/registry"
	"github.com/acesanderson/conduit/internal/request"

	"github.com/acesanderson/conduit"
)

// manifest is a small bundled catalog; a real deployment loads this from a
// manifest file or a discovery source instead of inlining it.
var manifest = []registry.ManifestEntry{
	{CanonicalName: "gpt-4o", Aliases: []string{"gpt4o"}, Providers: []registry.Provider{registry.ProviderOpenAI}, ContextWindow: 128000},
	{CanonicalName: "claude-sonnet-4-5", Aliases: []string{"sonnet"}, Providers: []registry.Provider{registry.ProviderAnthropic}, ContextWindow: 200000},
}

func main() {
	var (
		modelF  = flag.String("model", "gpt-4o", "canonical model name or alias to query")
		promptF = flag.String("prompt", "Say hello in one short sentence.", "prompt text for the demo query")
	)
	flag.Parse()

	ctx := context.Background()

	// 1) Registry + adapters. Only providers with a key present are wired;
	// AdapterFor on an unconfigured provider fails with a clear error.
	reg := registry.New(manifest)
	adapters := map[registry.Provider]provider.Adapter{}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		adapters[registry.ProviderOpenAI] = openai.NewFromAPIKey(key)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		adapters[registry.ProviderAnthropic] = anthropic.NewFromAPIKey(key)
	}
	if len(adapters) == 0 {
		fmt.Println("no provider API keys found (set OPENAI_API_KEY and/or ANTHROPIC_API_KEY)")
		os.Exit(1)
	}

	c := conduit.New(conduit.NewOptions{Registry: reg, Adapters: adapters})

	// 2) A single query.
	messages := []model.Message{model.NewUserMessage(*promptF)}
	resp, _, err := c.Query(ctx, messages, request.Params{Model: *modelF}, request.Options{Verbosity: request.Normal})
	if err != nil {
		fmt.Println("query failed:", err)
		os.Exit(1)
	}
	fmt.Println("query:", resp.Message.Content)

	tokens, err := c.Tokenize(*modelF, *promptF)
	if err != nil {
		fmt.Println("tokenize failed:", err)
	} else {
		fmt.Println("prompt tokens (approx):", tokens)
	}

	// 3) A small batch over three variations of the same prompt.
	prompts := []string{
		*promptF,
		"Name one interesting fact about the ocean.",
		"What's a good name for a pet robot?",
	}
	reqs := make([]*request.Request, len(prompts))
	for i, p := range prompts {
		reqs[i] = &request.Request{
			Messages: []model.Message{model.NewUserMessage(p)},
			Params:   request.Params{Model: *modelF},
		}
	}

	results := c.Batch(ctx, reqs, batch.Options{
		MaxConcurrent: 2,
		Verbosity:     request.Normal,
		OnProgress: func(p batch.Progress) {
			fmt.Printf("batch progress: %d/%d completed, %d failed\n", p.Completed, p.Total, p.Failed)
		},
	})
	for i, r := range results {
		if r.Err != nil {
			fmt.Printf("batch[%d]: error: %v\n", i, r.Err)
			continue
		}
		fmt.Printf("batch[%d]: %s\n", i, r.Response.Message.Content)
	}
}
