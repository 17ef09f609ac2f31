package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/registry"
	"github.com/acesanderson/conduit/internal/request"
)

var (
	testDSN         string
	testPgContainer testcontainers.Container
	skipPgTests     bool
)

func setupPostgres() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "postgres:16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "conduit",
				"POSTGRES_PASSWORD": "conduit",
				"POSTGRES_DB":       "conduit_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		}
		testPgContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		skipPgTests = true
		return
	}

	host, err := testPgContainer.Host(ctx)
	if err != nil {
		skipPgTests = true
		return
	}
	port, err := testPgContainer.MappedPort(ctx, "5432")
	if err != nil {
		skipPgTests = true
		return
	}
	testDSN = fmt.Sprintf("postgres://conduit:conduit@%s:%s/conduit_test", host, port.Port())
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New([]registry.ManifestEntry{
		{CanonicalName: "gpt-4o", Providers: []registry.Provider{registry.ProviderOpenAI}, ContextWindow: 128000},
	})
}

func getCache(t *testing.T, name string) *Cache {
	t.Helper()
	if testDSN == "" && !skipPgTests {
		setupPostgres()
	}
	if skipPgTests {
		t.Skip("Docker not available, skipping Postgres cache test")
	}
	ctx := context.Background()
	c, err := New(ctx, testDSN, name, testRegistry(t))
	require.NoError(t, err)
	require.NoError(t, c.Wipe())
	return c
}

func sampleRequest(model_ string) *request.Request {
	return &request.Request{
		Messages: []model.Message{model.NewUserMessage("hello")},
		Params:   request.Params{Model: model_},
	}
}

func TestCacheMissReturnsFalseNotError(t *testing.T) {
	c := getCache(t, "test-miss")
	resp, hit, err := c.Get(sampleRequest("gpt-4o"))
	require.NoError(t, err)
	require.False(t, hit)
	require.Nil(t, resp)
}

func TestCacheSetThenGetRoundTrips(t *testing.T) {
	c := getCache(t, "test-roundtrip")
	req := sampleRequest("gpt-4o")
	resp := &request.Response{
		Message:  model.NewAssistantMessage(model.AssistantMessage{Content: "hi there"}),
		Request:  req,
		Metadata: request.ResponseMetadata{ModelSlug: "gpt-4o", InputTokens: 3, OutputTokens: 2},
	}
	require.NoError(t, c.Set(req, resp))

	got, hit, err := c.Get(req)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, resp.Message.Content, got.Message.Content)
	require.True(t, got.Metadata.CacheHit)
}

func TestCacheSetIsLastWriterWinsUpsert(t *testing.T) {
	c := getCache(t, "test-upsert")
	req := sampleRequest("gpt-4o")
	first := &request.Response{Message: model.NewAssistantMessage(model.AssistantMessage{Content: "first"}), Request: req}
	second := &request.Response{Message: model.NewAssistantMessage(model.AssistantMessage{Content: "second"}), Request: req}

	require.NoError(t, c.Set(req, first))
	require.NoError(t, c.Set(req, second))

	got, hit, err := c.Get(req)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "second", got.Message.Content)

	stats, err := c.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalEntries)
}

func TestCacheWipeClearsOnlyItsOwnPartition(t *testing.T) {
	cA := getCache(t, "partition-a")
	cB := getCache(t, "partition-b")

	reqA := sampleRequest("gpt-4o")
	respA := &request.Response{Message: model.NewAssistantMessage(model.AssistantMessage{Content: "a"}), Request: reqA}
	require.NoError(t, cA.Set(reqA, respA))
	require.NoError(t, cB.Set(reqA, respA))

	require.NoError(t, cA.Wipe())

	_, hitA, err := cA.Get(reqA)
	require.NoError(t, err)
	require.False(t, hitA)

	_, hitB, err := cB.Get(reqA)
	require.NoError(t, err)
	require.True(t, hitB, "wiping partition A must not touch partition B")
}
