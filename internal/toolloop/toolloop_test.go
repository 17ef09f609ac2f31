package toolloop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/pipeline"
	"github.com/acesanderson/conduit/internal/provider"
	"github.com/acesanderson/conduit/internal/registry"
	"github.com/acesanderson/conduit/internal/request"
)

// scriptedAdapter replays one AssistantMessage/StopReason per hop, advancing
// on every Normalize call so a test can script a multi-hop conversation.
type scriptedAdapter struct {
	mu    sync.Mutex
	hop   int
	turns []scriptedTurn
}

type scriptedTurn struct {
	assistant  model.AssistantMessage
	stopReason request.StopReason
}

func (a *scriptedAdapter) Translate(_ context.Context, req *request.Request) (any, error) {
	return req, nil
}

func (a *scriptedAdapter) Execute(_ context.Context, payload any) (any, error) {
	return payload, nil
}

func (a *scriptedAdapter) Normalize(_ context.Context, _ any, req *request.Request, elapsedMs int64) (*request.Response, error) {
	a.mu.Lock()
	turn := a.turns[a.hop]
	if a.hop < len(a.turns)-1 {
		a.hop++
	}
	a.mu.Unlock()

	return &request.Response{
		Message: turn.assistant,
		Request: req,
		Metadata: request.ResponseMetadata{
			DurationMs: elapsedMs,
			StopReason: turn.stopReason,
		},
	}, nil
}

func testRegistry() *registry.Registry {
	return registry.New([]registry.ManifestEntry{
		{
			CanonicalName: "gpt-4o",
			Providers:     []registry.Provider{registry.ProviderOpenAI},
			ContextWindow: 128000,
		},
	})
}

func newTestLoop(adapter provider.Adapter) *Loop {
	reg := testRegistry()
	factory := provider.NewFactory(reg, map[registry.Provider]provider.Adapter{
		registry.ProviderOpenAI: adapter,
	})
	p := pipeline.New(pipeline.Options{Registry: reg, Factory: factory})
	return New(p)
}

func baseRequest() *request.Request {
	return &request.Request{
		Messages: []model.Message{model.NewUserMessage("what's the weather?")},
		Params:   request.Params{Model: "gpt-4o"},
	}
}

// fakeToolRegistry resolves tool names against an in-memory map.
type fakeToolRegistry struct {
	tools map[string]request.ToolHandle
}

func (r *fakeToolRegistry) Resolve(name string) (request.ToolHandle, bool) {
	h, ok := r.tools[name]
	return h, ok
}

func TestRunStopsImmediatelyWhenNoToolCalls(t *testing.T) {
	adapter := &scriptedAdapter{turns: []scriptedTurn{
		{assistant: model.NewAssistantMessage(model.AssistantMessage{Content: "hi"}), stopReason: request.StopStop},
	}}
	loop := newTestLoop(adapter)

	req := baseRequest()
	result, err := loop.Run(context.Background(), req)

	require.NoError(t, err)
	require.Equal(t, "hi", result.Response.Message.Content)
}

func TestRunExecutesToolAndReentersPipeline(t *testing.T) {
	call := model.NewToolCall("", "get_weather", map[string]any{"city": "nyc"})
	adapter := &scriptedAdapter{turns: []scriptedTurn{
		{
			assistant:  model.NewAssistantMessage(model.AssistantMessage{ToolCalls: []model.ToolCall{call}}),
			stopReason: request.StopToolCalls,
		},
		{
			assistant:  model.NewAssistantMessage(model.AssistantMessage{Content: "it's sunny"}),
			stopReason: request.StopStop,
		},
	}}
	loop := newTestLoop(adapter)

	var invoked int32
	reg := &fakeToolRegistry{tools: map[string]request.ToolHandle{
		"get_weather": {
			Name: "get_weather",
			Invoke: func(args map[string]any) (string, error) {
				atomic.AddInt32(&invoked, 1)
				return fmt.Sprintf("sunny in %v", args["city"]), nil
			},
		},
	}}

	req := baseRequest()
	req.Options.ToolRegistry = reg

	result, err := loop.Run(context.Background(), req)

	require.NoError(t, err)
	require.Equal(t, "it's sunny", result.Response.Message.Content)
	require.Equal(t, int32(1), invoked)

	// Assistant tool_calls message and its ToolMessage were appended in order.
	require.Len(t, req.Messages, 3)
	tm, ok := req.Messages[2].(model.ToolMessage)
	require.True(t, ok)
	require.Equal(t, call.ToolCallID, tm.ToolCallID)
}

func TestRunSynthesizesErrorForUnknownTool(t *testing.T) {
	call := model.NewToolCall("", "does_not_exist", nil)
	adapter := &scriptedAdapter{turns: []scriptedTurn{
		{
			assistant:  model.NewAssistantMessage(model.AssistantMessage{ToolCalls: []model.ToolCall{call}}),
			stopReason: request.StopToolCalls,
		},
		{
			assistant:  model.NewAssistantMessage(model.AssistantMessage{Content: "done"}),
			stopReason: request.StopStop,
		},
	}}
	loop := newTestLoop(adapter)

	req := baseRequest()
	req.Options.ToolRegistry = &fakeToolRegistry{tools: map[string]request.ToolHandle{}}

	result, err := loop.Run(context.Background(), req)

	require.NoError(t, err)
	require.Equal(t, "done", result.Response.Message.Content)
	tm, ok := req.Messages[2].(model.ToolMessage)
	require.True(t, ok)
	require.Contains(t, tm.Content, "unknown tool")
}

func TestRunSurfacesToolLoopExhausted(t *testing.T) {
	call := model.NewToolCall("", "get_weather", nil)
	turn := scriptedTurn{
		assistant:  model.NewAssistantMessage(model.AssistantMessage{ToolCalls: []model.ToolCall{call}}),
		stopReason: request.StopToolCalls,
	}
	adapter := &scriptedAdapter{turns: []scriptedTurn{turn, turn, turn}}
	loop := newTestLoop(adapter)

	req := baseRequest()
	req.Options.MaxToolHops = 2
	req.Options.ToolRegistry = &fakeToolRegistry{tools: map[string]request.ToolHandle{
		"get_weather": {Invoke: func(map[string]any) (string, error) { return "ok", nil }},
	}}

	_, err := loop.Run(context.Background(), req)

	require.Error(t, err)
	cerr, ok := conduiterr.As(err)
	require.True(t, ok)
	require.Equal(t, conduiterr.ToolLoopExhausted, cerr.Kind)
}

func TestRunInvokeTimeoutProducesErrorMessage(t *testing.T) {
	call := model.NewToolCall("", "slow_tool", nil)
	adapter := &scriptedAdapter{turns: []scriptedTurn{
		{
			assistant:  model.NewAssistantMessage(model.AssistantMessage{ToolCalls: []model.ToolCall{call}}),
			stopReason: request.StopToolCalls,
		},
		{
			assistant:  model.NewAssistantMessage(model.AssistantMessage{Content: "recovered"}),
			stopReason: request.StopStop,
		},
	}}
	loop := newTestLoop(adapter)

	req := baseRequest()
	req.Options.ToolRegistry = &fakeToolRegistry{tools: map[string]request.ToolHandle{
		"slow_tool": {
			Timeout: 10, // milliseconds
			Invoke: func(map[string]any) (string, error) {
				time.Sleep(200 * time.Millisecond)
				return "too late", nil
			},
		},
	}}

	result, err := loop.Run(context.Background(), req)

	require.NoError(t, err)
	require.Equal(t, "recovered", result.Response.Message.Content)
	tm, ok := req.Messages[2].(model.ToolMessage)
	require.True(t, ok)
	require.Contains(t, tm.Content, "error")
}
