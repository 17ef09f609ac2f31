package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/provider"
	"github.com/acesanderson/conduit/internal/registry"
	"github.com/acesanderson/conduit/internal/request"
	"github.com/acesanderson/conduit/internal/session"
	"github.com/acesanderson/conduit/internal/streamparser"
)

// fakeAdapter is a provider.Adapter test double. translateCount/executeCount
// let tests assert whether dispatch happened at all (e.g. on a cache hit).
type fakeAdapter struct {
	translateCount int
	executeCount   int
	normalizeCount int

	executeReply any
	executeErr   error
	assistant    model.AssistantMessage
	stopReason   request.StopReason
	normalizeErr error
}

func (a *fakeAdapter) Translate(_ context.Context, req *request.Request) (any, error) {
	a.translateCount++
	return req, nil
}

func (a *fakeAdapter) Execute(_ context.Context, _ any) (any, error) {
	a.executeCount++
	if a.executeErr != nil {
		return nil, a.executeErr
	}
	return a.executeReply, nil
}

func (a *fakeAdapter) Normalize(_ context.Context, _ any, req *request.Request, elapsedMs int64) (*request.Response, error) {
	a.normalizeCount++
	if a.normalizeErr != nil {
		return nil, a.normalizeErr
	}
	am := a.assistant
	if am.MessageID() == "" {
		am = model.NewAssistantMessage(model.AssistantMessage{Content: "hi"})
	}
	return &request.Response{
		Message: am,
		Request: req,
		Metadata: request.ResponseMetadata{
			DurationMs:   elapsedMs,
			StopReason:   a.stopReason,
			InputTokens:  10,
			OutputTokens: 5,
		},
	}, nil
}

// fakeStream satisfies streamparser.Stream so it can stand in for an
// adapter's Execute reply when a test exercises the streaming branch.
type fakeStream struct{}

func (fakeStream) Next(context.Context) (streamparser.Chunk, bool, error) {
	return streamparser.Chunk{}, false, nil
}

// fakeCache is an in-memory request.CacheHandle double.
type fakeCache struct {
	getCalls int
	setCalls int
	hit      *request.Response
	getErr   error
	setErr   error
}

func (c *fakeCache) Get(_ *request.Request) (*request.Response, bool, error) {
	c.getCalls++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	if c.hit == nil {
		return nil, false, nil
	}
	return c.hit, true, nil
}

func (c *fakeCache) Set(_ *request.Request, resp *request.Response) error {
	c.setCalls++
	if c.setErr != nil {
		return c.setErr
	}
	c.hit = resp
	return nil
}

func (c *fakeCache) Wipe() error { c.hit = nil; return nil }

// fakeRepository is an in-memory request.RepositoryHandle double.
type fakeRepository struct {
	saveCalls  int
	lastSaved  *session.Session
	lastTitle  string
}

func (r *fakeRepository) Save(sess *session.Session, title string) error {
	r.saveCalls++
	r.lastSaved = sess
	r.lastTitle = title
	return nil
}

func (r *fakeRepository) Load(string) (*session.Session, bool, error)                 { return nil, false, nil }
func (r *fakeRepository) RehydrateFromLeaf(string) (*session.Conversation, bool, error) { return nil, false, nil }
func (r *fakeRepository) List(int) ([]request.SessionSummary, error)                   { return nil, nil }
func (r *fakeRepository) Delete(string) error                                          { return nil }
func (r *fakeRepository) Wipe() error                                                  { return nil }

func testRegistry() *registry.Registry {
	return registry.New([]registry.ManifestEntry{
		{
			CanonicalName: "gpt-4o",
			Aliases:       []string{"gpt4o"},
			Providers:     []registry.Provider{registry.ProviderOpenAI},
			ContextWindow: 128000,
		},
		{
			CanonicalName: "claude-sonnet-4",
			Providers:     []registry.Provider{registry.ProviderAnthropic},
			ContextWindow: 200000,
		},
	})
}

func newTestPipeline(reg *registry.Registry, adapter *fakeAdapter) *Pipeline {
	factory := provider.NewFactory(reg, map[registry.Provider]provider.Adapter{
		registry.ProviderOpenAI:    adapter,
		registry.ProviderAnthropic: adapter,
	})
	return New(Options{Registry: reg, Factory: factory})
}

func baseRequest(modelName string) *request.Request {
	return &request.Request{
		Messages: []model.Message{model.NewUserMessage("hello")},
		Params:   request.Params{Model: modelName},
	}
}

func TestExecuteResolvesAliasAndDispatches(t *testing.T) {
	reg := testRegistry()
	adapter := &fakeAdapter{}
	p := newTestPipeline(reg, adapter)

	req := baseRequest("gpt4o")
	result, err := p.Execute(context.Background(), req)

	require.NoError(t, err)
	require.NotNil(t, result.Response)
	require.Equal(t, "gpt-4o", req.Params.Model)
	require.Equal(t, 1, adapter.executeCount)
}

func TestExecuteCacheHitSkipsDispatchButPersists(t *testing.T) {
	reg := testRegistry()
	adapter := &fakeAdapter{}
	p := newTestPipeline(reg, adapter)

	cachedResp := &request.Response{
		Message: model.NewAssistantMessage(model.AssistantMessage{Content: "cached answer"}),
	}
	cache := &fakeCache{hit: cachedResp}
	repo := &fakeRepository{}

	req := baseRequest("gpt-4o")
	req.Options = request.Options{Cache: cache, Repository: repo}

	result, err := p.Execute(context.Background(), req)

	require.NoError(t, err)
	require.True(t, result.Response.Metadata.CacheHit)
	require.Equal(t, 0, adapter.executeCount)
	require.Equal(t, 1, repo.saveCalls)
	require.Equal(t, 0, cache.setCalls)
}

func TestExecuteSetsCacheOnMiss(t *testing.T) {
	reg := testRegistry()
	adapter := &fakeAdapter{}
	p := newTestPipeline(reg, adapter)
	cache := &fakeCache{}

	req := baseRequest("gpt-4o")
	req.Options = request.Options{Cache: cache}

	_, err := p.Execute(context.Background(), req)

	require.NoError(t, err)
	require.Equal(t, 1, cache.setCalls)
}

func TestExecuteRejectsMissingTrailingUserMessage(t *testing.T) {
	reg := testRegistry()
	adapter := &fakeAdapter{}
	p := newTestPipeline(reg, adapter)

	req := baseRequest("gpt-4o")
	req.Messages = []model.Message{model.NewAssistantMessage(model.AssistantMessage{Content: "done"})}

	_, err := p.Execute(context.Background(), req)

	require.Error(t, err)
	cerr, ok := conduiterr.As(err)
	require.True(t, ok)
	require.Equal(t, conduiterr.ValidationError, cerr.Kind)
}

func TestExecuteRejectsTemperatureOutOfRange(t *testing.T) {
	reg := testRegistry()
	adapter := &fakeAdapter{}
	p := newTestPipeline(reg, adapter)

	req := baseRequest("claude-sonnet-4")
	hot := 1.8
	req.Params.Temperature = &hot

	_, err := p.Execute(context.Background(), req)

	require.Error(t, err)
	cerr, ok := conduiterr.As(err)
	require.True(t, ok)
	require.Equal(t, conduiterr.ValidationError, cerr.Kind)
	require.Equal(t, 0, adapter.executeCount)
}

func TestExecuteValidatesResponseModelSchema(t *testing.T) {
	reg := testRegistry()
	adapter := &fakeAdapter{
		assistant: model.NewAssistantMessage(model.AssistantMessage{Content: `{"name": "ok"}`}),
	}
	p := newTestPipeline(reg, adapter)

	req := baseRequest("gpt-4o")
	req.Params.ResponseModel = map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []any{"name"},
	}

	result, err := p.Execute(context.Background(), req)

	require.NoError(t, err)
	require.NotNil(t, result.Response.Message.Parsed)
}

func TestExecuteSurfacesSchemaMismatch(t *testing.T) {
	reg := testRegistry()
	adapter := &fakeAdapter{
		assistant: model.NewAssistantMessage(model.AssistantMessage{Content: `{"name": 123}`}),
	}
	p := newTestPipeline(reg, adapter)

	req := baseRequest("gpt-4o")
	req.Params.ResponseModel = map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []any{"name"},
	}

	_, err := p.Execute(context.Background(), req)

	require.Error(t, err)
	cerr, ok := conduiterr.As(err)
	require.True(t, ok)
	require.Equal(t, conduiterr.SchemaMismatch, cerr.Kind)
}

func TestExecuteStreamReturnsHandleWithoutNormalize(t *testing.T) {
	reg := testRegistry()
	adapter := &fakeAdapter{executeReply: fakeStream{}}
	p := newTestPipeline(reg, adapter)

	req := baseRequest("gpt-4o")
	req.Params.Stream = true

	result, err := p.Execute(context.Background(), req)

	require.NoError(t, err)
	require.Nil(t, result.Response)
	require.NotNil(t, result.Stream)
	require.Equal(t, 0, adapter.normalizeCount)
}

func TestExecuteUnknownModelFails(t *testing.T) {
	reg := testRegistry()
	adapter := &fakeAdapter{}
	p := newTestPipeline(reg, adapter)

	req := baseRequest("not-a-real-model")
	_, err := p.Execute(context.Background(), req)

	require.Error(t, err)
	cerr, ok := conduiterr.As(err)
	require.True(t, ok)
	require.Equal(t, conduiterr.UnknownModel, cerr.Kind)
}
