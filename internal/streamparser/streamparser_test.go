package streamparser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	chunks []Chunk
	i      int
	closed bool
}

func (f *fakeStream) Next(_ context.Context) (Chunk, bool, error) {
	if f.i >= len(f.chunks) {
		return Chunk{}, false, nil
	}
	c := f.chunks[f.i]
	f.i++
	return c, true, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

func chunksOf(parts ...string) []Chunk {
	out := make([]Chunk, len(parts))
	for i, p := range parts {
		out[i] = Chunk{Content: p}
	}
	return out
}

func TestChunkContentTriesEachShapeInOrder(t *testing.T) {
	assert.Equal(t, "fixture", chunkContent(Chunk{Content: "fixture"}))
	assert.Equal(t, "openai", chunkContent(Chunk{Choices: []ChunkChoice{{Delta: ChunkDelta{Content: "openai"}}}}))
	assert.Equal(t, "anthropic", chunkContent(Chunk{Delta: &ChunkDelta{Text: "anthropic"}}))
	assert.Equal(t, "google", chunkContent(Chunk{Text: "google"}))
}

func TestParseJSONExtractsCompleteObjectAcrossChunks(t *testing.T) {
	stream := &fakeStream{chunks: chunksOf(`preamble `, `{"a": 1, `, `"b": {"c": 2}}`, ` trailing`)}
	res, err := ParseJSON(context.Background(), stream, Options{CloseOnMatch: false})
	require.NoError(t, err)
	require.NotNil(t, res.Object)
	obj := res.Object.(map[string]any)
	assert.Equal(t, float64(1), obj["a"])
	assert.Equal(t, "preamble ", res.TextBefore)
}

func TestParseJSONSkipsFalsePositiveBeforeValidObject(t *testing.T) {
	stream := &fakeStream{chunks: chunksOf(`{not json} then {"ok": true}`)}
	res, err := ParseJSON(context.Background(), stream, Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Object)
	obj := res.Object.(map[string]any)
	assert.Equal(t, true, obj["ok"])
}

func TestParseJSONIncompleteReturnsNilObject(t *testing.T) {
	stream := &fakeStream{chunks: chunksOf(`{"a": 1, "b": `)}
	res, err := ParseJSON(context.Background(), stream, Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Object)
}

func TestParseJSONToleratesBracesInsideStrings(t *testing.T) {
	stream := &fakeStream{chunks: chunksOf(`{"key": "has } brace and \" escaped quote"}`)}
	res, err := ParseJSON(context.Background(), stream, Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Object)
}

func TestParseJSONCloseOnMatchClosesStreamEarly(t *testing.T) {
	stream := &fakeStream{chunks: chunksOf(`{"a":1}`, `trailing chunk never read`)}
	_, err := ParseJSON(context.Background(), stream, Options{CloseOnMatch: true, CheckInterval: 1})
	require.NoError(t, err)
	assert.True(t, stream.closed)
	assert.Less(t, stream.i, len(stream.chunks), "the trailing chunk must not be consumed after early close")
}

func TestParseXMLTracksNestedDepthOfSameTag(t *testing.T) {
	xml := `<function_calls><function_calls>nested</function_calls> outer</function_calls> trailing`
	stream := &fakeStream{chunks: chunksOf(xml)}
	res, err := ParseXML(context.Background(), stream, "function_calls", Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Object)
	assert.Equal(t, `<function_calls><function_calls>nested</function_calls> outer</function_calls>`, res.Object)
}

func TestParseXMLIncompleteReturnsNilObject(t *testing.T) {
	stream := &fakeStream{chunks: chunksOf(`<function_calls>no closing tag`)}
	res, err := ParseXML(context.Background(), stream, "function_calls", Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Object)
}
