// Package pipeline implements the single-shot Pipeline (C9): the seven-step
// algorithm that turns one GenerationRequest into a GenerationResponse,
// threading the cache probe, provider dispatch, structured-output
// validation, odometer accounting, and conversation persistence in the
// order SPEC_FULL.md §4.9 mandates (grounded on
// agents/runtime/runtime/runtime.go's orchestration style: a thin
// coordinator over injected subsystems, returning infrastructure failures
// as errors and modeling domain outcomes in the result value).
package pipeline

import (
	"context"
	"time"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/provider"
	"github.com/acesanderson/conduit/internal/provider/ratelimit"
	"github.com/acesanderson/conduit/internal/registry"
	"github.com/acesanderson/conduit/internal/request"
	"github.com/acesanderson/conduit/internal/session"
	"github.com/acesanderson/conduit/internal/streamparser"
	"github.com/acesanderson/conduit/internal/telemetry"
)

// Pipeline is the single-shot orchestrator. One Pipeline is shared across
// concurrent callers (e.g. every task in a C10 BatchEngine run); it holds
// no per-request state.
type Pipeline struct {
	reg      *registry.Registry
	factory  *provider.Factory
	limiters map[registry.Provider]*ratelimit.Limiter

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

// Options configures a Pipeline. Limiters is optional; a provider absent
// from the map dispatches unthrottled.
type Options struct {
	Registry *registry.Registry
	Factory  *provider.Factory
	Limiters map[registry.Provider]*ratelimit.Limiter
	Logger   telemetry.Logger
	Metrics  telemetry.Metrics
	Tracer   telemetry.Tracer
}

// New constructs a Pipeline. Logger, Metrics, and Tracer default to noop
// implementations when nil, matching the ambient-stack convention used
// throughout conduit's other components.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Pipeline{
		reg:      opts.Registry,
		factory:  opts.Factory,
		limiters: opts.Limiters,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Result is the outcome of Execute: exactly one of Response or Stream is set.
type Result struct {
	Response *request.Response
	Stream   *StreamHandle
}

// Execute runs the seven-step algorithm against req, mutating req.Params.Model
// to its resolved canonical name as a side effect of step 1 (§4.9).
func (p *Pipeline) Execute(ctx context.Context, req *request.Request) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.execute")
	defer span.End()

	if err := p.prepare(req); err != nil {
		return nil, err
	}

	cached, hit, err := p.probeCache(ctx, req)
	if err != nil {
		return nil, err
	}
	if hit {
		if err := p.persist(req, cached); err != nil {
			return nil, err
		}
		return &Result{Response: cached}, nil
	}

	adapter, providerName, err := p.factory.AdapterFor(req.Params.Model)
	if err != nil {
		return nil, err
	}

	wire, err := adapter.Translate(ctx, req)
	if err != nil {
		return nil, err
	}

	if limiter := p.limiters[providerName]; limiter != nil {
		if err := limiter.Wait(ctx, req); err != nil {
			return nil, conduiterr.Wrap(err, "pipeline: rate limit wait")
		}
		start := time.Now()
		reply, execErr := adapter.Execute(ctx, wire)
		limiter.Observe(execErr)
		if execErr != nil {
			return nil, execErr
		}
		return p.finish(ctx, req, adapter, reply, providerName, start)
	}

	start := time.Now()
	reply, err := adapter.Execute(ctx, wire)
	if err != nil {
		return nil, err
	}
	return p.finish(ctx, req, adapter, reply, providerName, start)
}

// finish implements steps 4-6: stream-vs-complete, post-process, persist.
func (p *Pipeline) finish(
	ctx context.Context,
	req *request.Request,
	adapter provider.Adapter,
	reply any,
	providerName registry.Provider,
	started time.Time,
) (*Result, error) {
	if req.Params.Stream {
		if stream, ok := reply.(streamparser.Stream); ok {
			return &Result{Stream: &StreamHandle{stream: stream, Req: req}}, nil
		}
	}

	elapsedMs := time.Since(started).Milliseconds()
	resp, err := adapter.Normalize(ctx, reply, req, elapsedMs)
	if err != nil {
		return nil, err
	}

	if err := p.postProcess(ctx, req, resp, providerName); err != nil {
		return nil, err
	}
	if err := p.persist(req, resp); err != nil {
		return nil, err
	}
	return &Result{Response: resp}, nil
}

// prepare is step 1: resolve aliases, validate temperature, splice in
// conversation history, and require the message list be ready to generate
// (its tail is a UserMessage or a ToolMessage — model.StateGenerate — the
// latter is what the Tool-Call Loop re-enters with after executing a hop's
// tool calls, per §4.11 step 4).
func (p *Pipeline) prepare(req *request.Request) error {
	canonical, err := p.reg.Resolve(req.Params.Model)
	if err != nil {
		return err
	}
	req.Params.Model = canonical

	if req.Params.Temperature != nil {
		providerName, err := p.reg.ProviderOf(canonical)
		if err != nil {
			return err
		}
		if err := validateTemperature(providerName, *req.Params.Temperature); err != nil {
			return err
		}
	}

	// Only splice in history not already present in req.Messages: a
	// Tool-Call Loop re-entry reuses the same *Request across hops, and
	// req.Messages already carries everything spliced/persisted on the
	// prior hop, so re-running this unconditionally would duplicate the
	// whole history on every hop.
	if req.Options.IncludeHistory && req.Options.Conversation != nil {
		present := make(map[string]bool, len(req.Messages))
		for _, m := range req.Messages {
			present[m.MessageID()] = true
		}
		var missing []model.Message
		for _, h := range req.Options.Conversation.Messages() {
			if !present[h.MessageID()] {
				missing = append(missing, h)
			}
		}
		if len(missing) > 0 {
			req.Messages = append(append([]model.Message(nil), missing...), req.Messages...)
		}
	}

	if len(req.Messages) == 0 {
		return conduiterr.New(conduiterr.ValidationError, "pipeline: at least one message is required", nil)
	}
	if model.DeriveState(req.Messages) != model.StateGenerate {
		return conduiterr.New(conduiterr.ValidationError, "pipeline: conversation is not ready to generate (must end in a user or tool message)", nil)
	}
	return nil
}

// probeCache is step 2. A miss is (nil, false, nil), not an error.
func (p *Pipeline) probeCache(ctx context.Context, req *request.Request) (*request.Response, bool, error) {
	if req.Options.Cache == nil {
		return nil, false, nil
	}
	span := p.tracer.Span(ctx)
	start := time.Now()
	resp, hit, err := req.Options.Cache.Get(req)
	span.AddEvent("cache.get")
	if err != nil {
		return nil, false, conduiterr.Wrap(err, "pipeline: cache probe")
	}
	if !hit {
		return nil, false, nil
	}
	resp.Metadata.CacheHit = true
	resp.Metadata.DurationMs = time.Since(start).Milliseconds()
	return resp, true, nil
}

// postProcess is step 5: structured-output validation when the adapter
// didn't already populate Parsed, then the odometer event.
func (p *Pipeline) postProcess(ctx context.Context, req *request.Request, resp *request.Response, providerName registry.Provider) error {
	if req.Params.ResponseModel != nil && resp.Message.Parsed == nil {
		parsed, err := validateAgainstSchema(req.Params.ResponseModel, resp.Message.Content)
		if err != nil {
			return conduiterr.New(conduiterr.SchemaMismatch, "pipeline: response did not match response_model schema", err)
		}
		resp.Message.Parsed = parsed
	}

	telemetry.RecordOdometer(ctx, p.logger, p.metrics, telemetry.OdometerEvent{
		Provider:     string(providerName),
		Model:        req.Params.Model,
		InputTokens:  resp.Metadata.InputTokens,
		OutputTokens: resp.Metadata.OutputTokens,
		Timestamp:    time.Now(),
	})
	return nil
}

// persist is step 6: append to the active Conversation and save, then
// (unless this was a cache hit) write the cache entry. Every message in
// req.Messages not already part of the Conversation is appended in order
// before the assistant's response — covering both a plain single-shot call
// (one new trailing user message) and a Tool-Call Loop re-entry (a trailing
// assistant message plus one or more ToolMessages accumulated since the
// prior hop, §4.11 step 4).
func (p *Pipeline) persist(req *request.Request, resp *request.Response) error {
	if req.Options.Repository != nil {
		conv := req.Options.Conversation
		if conv == nil {
			conv = session.New()
			req.Options.Conversation = conv
		}
		for _, msg := range req.Messages {
			if conversationOwns(conv, msg) {
				continue
			}
			if err := conv.Add(msg); err != nil {
				return conduiterr.Wrap(err, "pipeline: append message")
			}
		}
		if err := conv.Add(resp.Message); err != nil {
			return conduiterr.Wrap(err, "pipeline: append assistant message")
		}
		if err := req.Options.Repository.Save(conv.Session(), ""); err != nil {
			return conduiterr.Wrap(err, "pipeline: persist session")
		}
	}

	if req.Options.Cache != nil && !resp.Metadata.CacheHit {
		if err := req.Options.Cache.Set(req, resp); err != nil {
			return conduiterr.Wrap(err, "pipeline: cache set")
		}
	}
	return nil
}

// conversationOwns reports whether msg is already part of conv's backing
// Session, so persist doesn't re-append a message that arrived via
// include_history.
func conversationOwns(conv *session.Conversation, msg model.Message) bool {
	s := conv.Session()
	if s == nil {
		return false
	}
	_, ok := s.Get(msg.MessageID())
	return ok
}
