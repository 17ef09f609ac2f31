// Package toolloop implements the Tool-Call Loop (C11): repeatedly re-enters
// the single-shot Pipeline whenever a response's stop reason is TOOL_CALLS,
// resolving and invoking each requested tool and feeding the results back as
// ToolMessages, until the model stops asking for tools or the caller's hop
// budget runs out.
//
// Grounded on agent/runtime/tool_calls.go's executeToolCalls: an unknown
// tool becomes a synthesized error result rather than a failure
// (synthesizeUnknownToolResult), every invocation is bounded by a timeout,
// and results are always merged back in the original tool_calls order
// (mergeToolResultsInCallOrder) regardless of completion order. The
// teacher's activity/child-workflow dispatch machinery has no analogue here
// (spec.md's Non-goals exclude a durable workflow engine); concurrent
// dispatch is reduced to a plain goroutine fan-out per hop.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/pipeline"
	"github.com/acesanderson/conduit/internal/request"
)

// defaultMaxHops applies when the caller leaves Options.MaxToolHops unset.
const defaultMaxHops = 10

// defaultToolTimeout applies when a ToolHandle leaves Timeout unset.
const defaultToolTimeout = 30 * time.Second

// Loop re-enters a Pipeline across tool-call hops.
type Loop struct {
	pipeline *pipeline.Pipeline
}

// New constructs a Loop over p.
func New(p *pipeline.Pipeline) *Loop {
	return &Loop{pipeline: p}
}

// Run drives req through the Pipeline, resolving and invoking tool calls and
// re-entering the Pipeline until the stop reason leaves TOOL_CALLS or the
// hop budget is exhausted (surfacing ToolLoopExhausted). A streaming result
// is returned immediately: the tool loop only drives complete responses.
func (l *Loop) Run(ctx context.Context, req *request.Request) (*pipeline.Result, error) {
	maxHops := req.Options.MaxToolHops
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}

	hops := 0
	for {
		result, err := l.pipeline.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		if result.Stream != nil || result.Response.Metadata.StopReason != request.StopToolCalls {
			return result, nil
		}

		hops++
		if hops > maxHops {
			return nil, conduiterr.New(conduiterr.ToolLoopExhausted,
				fmt.Sprintf("toolloop: exceeded max_tool_hops (%d)", maxHops), nil)
		}

		assistant := result.Response.Message
		toolMsgs, err := l.executeCalls(ctx, req, assistant.ToolCalls)
		if err != nil {
			return nil, err
		}

		req.Messages = append(req.Messages, assistant)
		for _, tm := range toolMsgs {
			req.Messages = append(req.Messages, tm)
		}
	}
}

// executeCalls resolves and invokes every call, returning one ToolMessage
// per call in the original order regardless of completion order. Calls that
// are both parallel-eligible (Options.ParallelToolCalls) and declared
// thread-safe by the registry run concurrently; every other call runs
// inline, serializing the dispatch loop around it (§4.11 step 2).
func (l *Loop) executeCalls(ctx context.Context, req *request.Request, calls []model.ToolCall) ([]model.ToolMessage, error) {
	results := make([]model.ToolMessage, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		tool, ok := lookupTool(req, call.FunctionName)
		if !ok {
			results[i] = unknownToolMessage(call)
			continue
		}

		if req.Options.ParallelToolCalls && tool.ThreadSafe {
			i, call, tool := i, call, tool
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = invokeTool(ctx, call, tool)
			}()
			continue
		}

		results[i] = invokeTool(ctx, call, tool)
	}

	wg.Wait()
	return results, nil
}

func lookupTool(req *request.Request, name string) (request.ToolHandle, bool) {
	if req.Options.ToolRegistry == nil {
		return request.ToolHandle{}, false
	}
	return req.Options.ToolRegistry.Resolve(name)
}

func unknownToolMessage(call model.ToolCall) model.ToolMessage {
	payload, _ := json.Marshal(map[string]string{
		"error": fmt.Sprintf("unknown tool %q", call.FunctionName),
	})
	return model.NewToolMessage(string(payload), call.ToolCallID, call.FunctionName)
}

// invokeTool runs one tool call under its configured (or default) timeout,
// converting any error — including a deadline exceeded — into an error
// payload rather than failing the loop. ToolHandle.Invoke takes no context,
// so a tool that ignores the timeout and never returns leaks its goroutine;
// conduit's own tools are expected to respect ctx-derived deadlines
// internally where that matters.
func invokeTool(ctx context.Context, call model.ToolCall, tool request.ToolHandle) model.ToolMessage {
	timeout := defaultToolTimeout
	if tool.Timeout > 0 {
		timeout = time.Duration(tool.Timeout) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		content, err := tool.Invoke(call.Arguments)
		done <- outcome{content: content, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return errorToolMessage(call, out.err)
		}
		return model.NewToolMessage(out.content, call.ToolCallID, call.FunctionName)
	case <-callCtx.Done():
		return errorToolMessage(call, callCtx.Err())
	}
}

func errorToolMessage(call model.ToolCall, err error) model.ToolMessage {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return model.NewToolMessage(string(payload), call.ToolCallID, call.FunctionName)
}
