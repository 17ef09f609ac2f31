package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acesanderson/conduit/internal/model"
)

func TestConversationAddEnforcesSystemUniqueness(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(model.NewSystemMessage("be terse")))
	err := c.Add(model.NewSystemMessage("be terse again"))
	assert.Error(t, err)
}

func TestConversationAddEnforcesRoleAlternation(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(model.NewUserMessage("hi")))
	err := c.Add(model.NewUserMessage("hi again"))
	assert.Error(t, err)
}

func TestConversationAddAllowsToolBlockAfterMatchingAssistant(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(model.NewUserMessage("what time is it?")))
	tc := model.NewToolCall("tc1", "get_time", nil)
	require.NoError(t, c.Add(model.NewAssistantMessage(model.AssistantMessage{ToolCalls: []model.ToolCall{tc}})))
	require.NoError(t, c.Add(model.NewToolMessage("12:00", "tc1", "get_time")))

	err := c.Add(model.NewToolMessage("13:00", "unmatched", "get_time"))
	assert.Error(t, err)
}

func TestConversationBranchIsolation(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		var msg model.Message
		if i%2 == 0 {
			msg = model.NewUserMessage("turn")
		} else {
			msg = model.NewAssistantMessage(model.AssistantMessage{Content: "reply"})
		}
		require.NoError(t, c.Add(msg))
	}
	require.Len(t, c.Messages(), 5)

	b, err := c.Branch(2)
	require.NoError(t, err)
	assert.Len(t, b.Messages(), 3)
	assert.Equal(t, c.Messages()[:3], b.Messages())
	assert.Same(t, c.Session(), b.Session())
	branchPoint := b.Messages()[2].MessageID()

	require.NoError(t, b.Add(model.NewAssistantMessage(model.AssistantMessage{Content: "branch reply"})))
	assert.Len(t, c.Messages(), 5, "appending to the branch must not change the original")
	assert.Len(t, b.Messages(), 4)
	branchReply := b.Messages()[3]
	assert.Equal(t, branchPoint, branchReply.PredecessorID(),
		"branch append must chain off the branch point, not the original's current tail or the session's own leaf")

	// The original conversation's own next append must still chain off its
	// own tail (messages[4]), unaffected by the branch append above.
	originalTail := c.Messages()[4].MessageID()
	require.NoError(t, c.Add(model.NewToolMessage("ok", "tc-orig", "noop")))
	assert.Equal(t, originalTail, c.Messages()[5].PredecessorID())

	// The Session can now reconstruct the branch's own ancestor chain from
	// its leaf, distinct from the original's chain.
	chain, err := c.Session().Ancestors(branchReply.MessageID())
	require.NoError(t, err)
	require.Len(t, chain, 4)
	assert.Equal(t, branchReply.MessageID(), chain[3].MessageID())
	assert.Equal(t, branchPoint, chain[2].MessageID())
}

func TestSessionAncestryTerminates(t *testing.T) {
	c := New()
	var leaf string
	for i := 0; i < 10; i++ {
		var msg model.Message
		if i%2 == 0 {
			msg = model.NewUserMessage("turn")
		} else {
			msg = model.NewAssistantMessage(model.AssistantMessage{Content: "reply"})
		}
		require.NoError(t, c.Add(msg))
		leaf = c.Session().Leaf()
	}
	chain, err := c.Session().Ancestors(leaf)
	require.NoError(t, err)
	assert.Len(t, chain, 10)
	assert.Empty(t, chain[0].PredecessorID())
}

func TestConversationPrune(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Add(model.NewUserMessage("turn")))
		require.NoError(t, c.Add(model.NewAssistantMessage(model.AssistantMessage{Content: "reply"})))
	}
	full := c.Messages()
	c.Prune(3)
	assert.Len(t, c.Messages(), 3)
	assert.Equal(t, full[len(full)-3:], c.Messages())
	assert.Equal(t, 10, c.Session().Len(), "pruning must not touch the session")
}
