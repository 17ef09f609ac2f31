// Package conduit is the provider-agnostic LM orchestration runtime's public
// surface (§6): query/batch/tokenize over a registry of models and the
// adapters that serve them. Everything else — the message model, the
// registry, the provider adapters, the cache and repository, the pipeline,
// the batch engine, and the tool-call loop — lives under internal/ and is
// wired together here.
package conduit

import (
	"context"
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/acesanderson/conduit/internal/batch"
	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/pipeline"
	"github.com/acesanderson/conduit/internal/provider"
	"github.com/acesanderson/conduit/internal/provider/ratelimit"
	"github.com/acesanderson/conduit/internal/registry"
	"github.com/acesanderson/conduit/internal/request"
	"github.com/acesanderson/conduit/internal/session"
	"github.com/acesanderson/conduit/internal/telemetry"
	"github.com/acesanderson/conduit/internal/toolloop"
)

// Re-exported so callers don't need to import internal/request or
// internal/session directly for the types they pass to Query/Batch.
type (
	Message           = model.Message
	Params            = request.Params
	Options           = request.Options
	Response          = request.Response
	StreamHandle      = pipeline.StreamHandle
	Conversation      = session.Conversation
	Session           = session.Session
	CacheHandle       = request.CacheHandle
	RepositoryHandle  = request.RepositoryHandle
	ToolHandle        = request.ToolHandle
	ToolRegistry      = request.ToolRegistry
	BatchResult       = batch.Result
	BatchOptions      = batch.Options
	ProgressFunc      = batch.ProgressFunc
)

// NewOptions configures a Conduit instance.
type NewOptions struct {
	Registry *registry.Registry
	Adapters map[registry.Provider]provider.Adapter
	Limiters map[registry.Provider]*ratelimit.Limiter
	Logger   telemetry.Logger
	Metrics  telemetry.Metrics
	Tracer   telemetry.Tracer
}

// Conduit is the runtime entry point: one instance wraps one ModelRegistry
// and one set of configured provider adapters, and is safe for concurrent
// callers (matching Pipeline's own "no per-request state" contract).
type Conduit struct {
	reg      *registry.Registry
	pipeline *pipeline.Pipeline
	batch    *batch.Engine
	toolloop *toolloop.Loop
}

// New wires a Registry, a provider Factory, and the ambient telemetry stack
// into a Pipeline and a BatchEngine, returning the single entry point a
// calling application uses for query/batch/tokenize.
func New(opts NewOptions) *Conduit {
	factory := provider.NewFactory(opts.Registry, opts.Adapters)
	p := pipeline.New(pipeline.Options{
		Registry: opts.Registry,
		Factory:  factory,
		Limiters: opts.Limiters,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Tracer:   opts.Tracer,
	})
	return &Conduit{
		reg:      opts.Registry,
		pipeline: p,
		batch:    batch.New(p),
		toolloop: toolloop.New(p),
	}
}

// Query runs one GenerationRequest to completion (§6). When opts.ToolRegistry
// is set the call is routed through the Tool-Call Loop (C11), which re-enters
// the pipeline on every TOOL_CALLS hop until the model stops asking for tools
// or the hop budget is exhausted; otherwise it is a single Pipeline.Execute
// call. Exactly one of the returned Response or StreamHandle is non-nil.
func (c *Conduit) Query(ctx context.Context, messages []model.Message, params request.Params, opts request.Options) (*request.Response, *pipeline.StreamHandle, error) {
	req := &request.Request{Messages: messages, Params: params, Options: opts}

	if opts.ToolRegistry != nil {
		result, err := c.toolloop.Run(ctx, req)
		if err != nil {
			return nil, nil, err
		}
		return result.Response, result.Stream, nil
	}

	result, err := c.pipeline.Execute(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return result.Response, result.Stream, nil
}

// Batch runs every request in inputs across the BatchEngine, bounded by
// batchOpts.MaxConcurrent (0 means unbounded), returning one BatchResult per
// input in input order regardless of completion order (§6, §4.10). Progress
// is reported to batchOpts.OnProgress, gated by batchOpts.Verbosity.
func (c *Conduit) Batch(ctx context.Context, inputs []*request.Request, batchOpts batch.Options) []batch.Result {
	return c.batch.Run(ctx, inputs, batchOpts)
}

// Tokenize counts the tokens payload would consume for model (§6). For
// OpenAI-family and OpenAI-compatible gateway models it uses the vendor's
// own BPE tokenizer; every other provider family (Anthropic, Bedrock,
// Google) has no redistributable local tokenizer, so it falls back to a
// character-based heuristic.
func (c *Conduit) Tokenize(modelName string, payload any) (int, error) {
	canonical, err := c.reg.Resolve(modelName)
	if err != nil {
		return 0, err
	}
	providerName, err := c.reg.ProviderOf(canonical)
	if err != nil {
		return 0, err
	}

	text, err := flattenPayload(payload)
	if err != nil {
		return 0, err
	}

	switch providerName {
	case registry.ProviderOpenAI, registry.ProviderGateway:
		return tiktokenCount(canonical, text)
	default:
		return heuristicTokenCount(text), nil
	}
}

// flattenPayload accepts either a raw string or a list of Messages (§6
// "payload: string | list[Message]") and concatenates the text content of
// every message, matching internal/provider/ratelimit's own flattening.
func flattenPayload(payload any) (string, error) {
	switch v := payload.(type) {
	case string:
		return v, nil
	case []model.Message:
		var b strings.Builder
		for _, m := range v {
			switch msg := m.(type) {
			case model.SystemMessage:
				b.WriteString(msg.Content)
			case model.UserMessage:
				b.WriteString(msg.Content)
			case model.AssistantMessage:
				b.WriteString(msg.Content)
			case model.ToolMessage:
				b.WriteString(msg.Content)
			}
			b.WriteByte('\n')
		}
		return b.String(), nil
	default:
		return "", conduiterr.New(conduiterr.ValidationError, "conduit: tokenize payload must be a string or []model.Message", nil)
	}
}

// tiktokenCount encodes text with the BPE encoding registered for model,
// falling back to cl100k_base for a canonical name tiktoken-go doesn't
// recognize directly (e.g. an aliased or newer model sharing an existing
// vendor encoding).
func tiktokenCount(modelName, text string) (int, error) {
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, conduiterr.Wrap(err, "conduit: tokenize encoding lookup")
		}
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// heuristicTokenCount approximates token count at roughly 4 characters per
// token, the same order-of-magnitude estimate internal/provider/ratelimit
// uses for budget accounting, without that package's fixed framing buffer
// (tokenize reports a payload's own size, not a request's wire overhead).
func heuristicTokenCount(text string) int {
	n := len(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	tokens := n / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
