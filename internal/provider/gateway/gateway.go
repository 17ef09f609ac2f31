// Package gateway implements the provider adapter for OpenAI-compatible
// local inference hosts (SPEC_FULL.md §4.5, §2): it wraps the OpenAI-family
// wire protocol and additionally threads an extra_body.options bag carrying
// num_ctx resolved from the ModelRegistry.
package gateway

import (
	"context"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/acesanderson/conduit/internal/provider/openai"
	"github.com/acesanderson/conduit/internal/registry"
	"github.com/acesanderson/conduit/internal/request"
)

// Adapter wraps openai.Adapter, adding the local-inference-host num_ctx
// extension that the hosted OpenAI API does not accept.
type Adapter struct {
	*openai.Adapter
	reg *registry.Registry
}

// New builds a gateway adapter over an explicit ChatClient, resolving
// num_ctx through reg.
func New(chat openai.ChatClient, reg *registry.Registry) *Adapter {
	return &Adapter{Adapter: openai.New(chat), reg: reg}
}

// NewFromBaseURL constructs an adapter against a local OpenAI-compatible
// server, typically requiring no real API key.
func NewFromBaseURL(baseURL, apiKey string, reg *registry.Registry) *Adapter {
	c := oai.NewClient(option.WithBaseURL(baseURL), option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, reg)
}

// Translate delegates to the embedded OpenAI adapter, then folds in
// extra_body.options.num_ctx resolved from the registry when available.
func (a *Adapter) Translate(ctx context.Context, req *request.Request) (any, error) {
	wire, err := a.Adapter.Translate(ctx, req)
	if err != nil {
		return nil, err
	}
	params := wire.(*oai.ChatCompletionNewParams)

	numCtx := 0
	if a.reg != nil {
		if canonical, rerr := a.reg.Resolve(req.Params.Model); rerr == nil {
			if cw, cerr := a.reg.ContextWindow(canonical); cerr == nil {
				numCtx = cw
			}
		}
	}
	if v, ok := req.Params.ClientParams["num_ctx"]; ok {
		if n, ok := v.(int); ok {
			numCtx = n
		}
	}
	if numCtx > 0 {
		if params.ExtraFields == nil {
			params.ExtraFields = map[string]any{}
		}
		params.ExtraFields["extra_body"] = map[string]any{
			"options": map[string]any{"num_ctx": numCtx},
		}
	}
	return params, nil
}
