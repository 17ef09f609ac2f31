// Package batch implements the BatchEngine (C10): bounded-concurrency
// fan-out of many GenerationRequests across the single-shot Pipeline
// (§4.9), grounded on conduit_batch.py's ConduitBatch._run_batch_async (an
// asyncio.Semaphore gating asyncio.gather over one coroutine per input) —
// translated to the errgroup.Group-with-SetLimit idiom the pack's own
// orchestrator tool loops use for the same shape of problem.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/pipeline"
	"github.com/acesanderson/conduit/internal/request"
)

// Result is one input's outcome. Exactly one of Response, Stream, or Err is
// set. Results preserve input order regardless of completion order
// (gather-all-complete semantics, §4.10).
type Result struct {
	Response *request.Response
	Stream   *pipeline.StreamHandle
	Err      error
}

// Options configures one Run call.
type Options struct {
	// MaxConcurrent caps simultaneously in-flight tasks. Zero means
	// unbounded: every input starts immediately.
	MaxConcurrent int
	Verbosity     request.Verbosity
	OnProgress    ProgressFunc
}

// Engine runs batches of requests through a shared Pipeline.
type Engine struct {
	pipeline *pipeline.Pipeline
}

// New constructs an Engine over p. One Engine, like one Pipeline, is safe
// for concurrent use across many Run calls.
func New(p *pipeline.Pipeline) *Engine {
	return &Engine{pipeline: p}
}

// Run executes reqs concurrently, gated by opts.MaxConcurrent (unlimited
// when zero), and returns one Result per input in input order regardless of
// completion order. A failure in one task never cancels or drops the
// others — g.Go's functions always return nil, so errgroup's own
// cancel-on-first-error never fires; each task instead records its outcome
// directly into results[i]. Once ctx is canceled, any task not yet admitted
// is dropped without starting (a Cancelled error in its slot); an admitted
// task keeps running until its next suspension point — the adapter's
// Execute call — observes ctx.Done().
func (e *Engine) Run(ctx context.Context, reqs []*request.Request, opts Options) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	t := newTracker(len(reqs), opts.Verbosity, opts.OnProgress)

	var g errgroup.Group
	if opts.MaxConcurrent > 0 {
		g.SetLimit(opts.MaxConcurrent)
	}

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = Result{Err: conduiterr.New(conduiterr.Cancelled, "batch: task dropped before admission", ctx.Err())}
				return nil
			}
			results[i] = e.runOne(ctx, req, t)
			return nil
		})
	}

	g.Wait() //nolint:errcheck // task funcs always return nil; outcomes live in results[i]
	return results
}

func (e *Engine) runOne(ctx context.Context, req *request.Request, t *tracker) Result {
	t.taskStarted()

	out, err := e.pipeline.Execute(ctx, req)
	if err != nil {
		t.taskFinished(TaskFailed)
		return Result{Err: err}
	}

	if out.Response != nil && out.Response.Metadata.CacheHit {
		t.taskFinished(TaskCacheHit)
	} else {
		t.taskFinished(TaskComplete)
	}
	return Result{Response: out.Response, Stream: out.Stream}
}
