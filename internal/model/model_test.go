package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssistantMessageRequiresPayload(t *testing.T) {
	assert.Panics(t, func() {
		NewAssistantMessage(AssistantMessage{})
	})
}

func TestNewAssistantMessageAcceptsAnySlot(t *testing.T) {
	cases := []AssistantMessage{
		{Content: "hello"},
		{Reasoning: "thinking..."},
		{ToolCalls: []ToolCall{NewToolCall("", "get_time", nil)}},
		{Images: []ImageOutput{{URL: "https://example.com/x.png"}}},
		{Audio: &AudioOutput{Base64: "aGVsbG8=", Format: "mp3"}},
		{Parsed: map[string]any{"species": "frog"}},
	}
	for _, c := range cases {
		assert.NotPanics(t, func() { NewAssistantMessage(c) })
	}
}

func TestWithLineageBackfillsWithoutMutatingOriginal(t *testing.T) {
	orig := NewUserMessage("hi")
	require.Empty(t, orig.SessionID())
	require.Empty(t, orig.PredecessorID())

	linked := WithLineage(orig, "pred-1", "sess-1", 1000)

	assert.Empty(t, orig.SessionID(), "original must remain unmutated")
	assert.Equal(t, "sess-1", linked.SessionID())
	assert.Equal(t, "pred-1", linked.PredecessorID())
	assert.Equal(t, orig.MessageID(), linked.MessageID())
}

func TestEqualByMessageID(t *testing.T) {
	a := NewUserMessage("hi")
	b := a
	b.Content = "different content, same id"
	assert.True(t, Equal(a, b))

	c := NewUserMessage("hi")
	assert.False(t, Equal(a, c))
}

func TestMarshalUnmarshalMessageRoundTrip(t *testing.T) {
	msgs := []Message{
		NewSystemMessage("be terse"),
		NewUserMessageBlocks(TextBlock{Text: "describe this"}, ImageBlock{URL: "data:image/png;base64,abc", Detail: "low"}),
		NewAssistantMessage(AssistantMessage{Content: "it is a frog", ToolCalls: []ToolCall{NewToolCall("tc1", "get_time", map[string]any{"tz": "UTC"})}}),
		NewToolMessage("12:00", "tc1", "get_time"),
	}
	for _, m := range msgs {
		data, err := MarshalMessage(m)
		require.NoError(t, err)
		got, err := UnmarshalMessage(data)
		require.NoError(t, err)
		assert.Equal(t, m.MessageID(), got.MessageID())
		assert.Equal(t, m.Role(), got.Role())
	}
}

func TestDeriveState(t *testing.T) {
	assert.Equal(t, StateIncomplete, DeriveState(nil))
	assert.Equal(t, StateIncomplete, DeriveState([]Message{NewSystemMessage("sys")}))
	assert.Equal(t, StateGenerate, DeriveState([]Message{NewUserMessage("hi")}))
	assert.Equal(t, StateTerminate, DeriveState([]Message{NewAssistantMessage(AssistantMessage{Content: "done"})}))
	assert.Equal(t, StateExecute, DeriveState([]Message{
		NewAssistantMessage(AssistantMessage{ToolCalls: []ToolCall{NewToolCall("", "f", nil)}}),
	}))
	assert.Equal(t, StateGenerate, DeriveState([]Message{NewToolMessage("res", "tc1", "f")}))
}
