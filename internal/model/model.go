// Package model defines the provider-agnostic message types conduit passes
// between the pipeline, conversation store, and provider adapters. Messages
// are value objects, equal by MessageID; content blocks and variant payloads
// serialize to a stable discriminated JSON form (see json.go).
package model

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Role is the speaker role for a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentBlock is a marker interface implemented by the ordered content
// blocks a UserMessage may carry in place of a plain text body.
type ContentBlock interface {
	isContentBlock()
}

// TextBlock is a plain text content block.
type TextBlock struct {
	Text string
}

// ImageBlock references image content either by URL or by an embedded
// base64 data-URI, with an optional rendering detail hint ("low"/"high"/"auto").
type ImageBlock struct {
	// URL holds either a remote URL or a "data:<mime>;base64,<payload>" URI.
	URL    string
	Detail string
}

// AudioBlock carries base64-encoded audio content with an explicit format tag.
type AudioBlock struct {
	Base64 string
	Format string // "mp3", "wav"
}

func (TextBlock) isContentBlock()  {}
func (ImageBlock) isContentBlock() {}
func (AudioBlock) isContentBlock() {}

// NewImageBlockFromFile reads path and transparently encodes it as a
// base64 data-URI, per §4.2's "image blocks accept a file path and
// transparently encode to a base64 data-URI on ingestion".
func NewImageBlockFromFile(path, detail string) (ImageBlock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageBlock{}, fmt.Errorf("model: read image file: %w", err)
	}
	mime := mimeTypeForExt(filepath.Ext(path))
	uri := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
	return ImageBlock{URL: uri, Detail: detail}, nil
}

func mimeTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// ImageOutput is a generated image returned by an assistant, in either
// hosted-URL or inline base64 form.
type ImageOutput struct {
	URL           string
	B64JSON       string
	RevisedPrompt string
}

// AudioOutput is generated audio (text-to-speech) content.
type AudioOutput struct {
	Base64 string
	Format string
}

// ToolCall is an assistant's structured request to invoke a named function.
type ToolCall struct {
	ToolCallID   string
	Type         string // always "function"
	FunctionName string
	Arguments    map[string]any
}

// NewToolCall constructs a ToolCall with a fresh ID when id is empty, per
// §4.5's "if the provider omits ids, the adapter assigns fresh UUIDs".
func NewToolCall(id, functionName string, arguments map[string]any) ToolCall {
	if id == "" {
		id = uuid.NewString()
	}
	return ToolCall{
		ToolCallID:   id,
		Type:         "function",
		FunctionName: functionName,
		Arguments:    arguments,
	}
}

// base carries the attributes common to every Message variant.
type base struct {
	id            string
	role          Role
	timestamp     int64
	predecessorID string
	sessionID     string
}

func (b base) isMessage()            {}
func (b base) MessageID() string     { return b.id }
func (b base) Role() Role            { return b.role }
func (b base) Timestamp() int64      { return b.timestamp }
func (b base) PredecessorID() string { return b.predecessorID }
func (b base) SessionID() string     { return b.sessionID }

// Message is the closed discriminated union over SystemMessage, UserMessage,
// AssistantMessage, and ToolMessage. Equality is by MessageID; MessageID is
// assigned once at construction and never changes.
type Message interface {
	isMessage()
	MessageID() string
	Role() Role
	Timestamp() int64
	PredecessorID() string
	SessionID() string

	// withBase returns a copy of the message with base fields replaced,
	// used by the session/conversation layer to backfill PredecessorID and
	// SessionID on append without mutating the original value.
	withBase(base) Message
}

// Equal reports whether a and b are the same message by MessageID.
func Equal(a, b Message) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.MessageID() == b.MessageID()
}

// SystemMessage carries system-prompt text. A Conversation permits at most
// one, and it must be first (§3, §9 Open Questions).
type SystemMessage struct {
	base
	Content string
}

// NewSystemMessage constructs a SystemMessage with a fresh MessageID.
func NewSystemMessage(content string) SystemMessage {
	return SystemMessage{base: base{id: uuid.NewString(), role: RoleSystem}, Content: content}
}

func (m SystemMessage) withBase(b base) Message { m.base = b; return m }

// UserMessage carries either plain text or an ordered list of content blocks.
// Exactly one of Content or Blocks is populated.
type UserMessage struct {
	base
	Content string
	Blocks  []ContentBlock
}

// NewUserMessage constructs a text UserMessage with a fresh MessageID.
func NewUserMessage(content string) UserMessage {
	return UserMessage{base: base{id: uuid.NewString(), role: RoleUser}, Content: content}
}

// NewUserMessageBlocks constructs a multimodal UserMessage from content blocks.
func NewUserMessageBlocks(blocks ...ContentBlock) UserMessage {
	return UserMessage{base: base{id: uuid.NewString(), role: RoleUser}, Blocks: blocks}
}

func (m UserMessage) withBase(b base) Message { m.base = b; return m }

// AssistantMessage is the model's reply. Invariant: at least one of Content,
// Reasoning, ToolCalls, Images, Audio, or Parsed is populated (§3).
type AssistantMessage struct {
	base
	Content   string
	Reasoning string
	ToolCalls []ToolCall
	Images    []ImageOutput
	Audio     *AudioOutput
	Parsed    any
}

// NewAssistantMessage constructs an AssistantMessage with a fresh MessageID.
// It panics if every payload slot is empty, enforcing the §3 invariant at
// the single construction point rather than scattering checks downstream.
func NewAssistantMessage(m AssistantMessage) AssistantMessage {
	m.base = base{id: uuid.NewString(), role: RoleAssistant}
	if !m.hasPayload() {
		panic("model: AssistantMessage requires at least one populated payload slot")
	}
	return m
}

func (m AssistantMessage) hasPayload() bool {
	return m.Content != "" || m.Reasoning != "" || len(m.ToolCalls) > 0 ||
		len(m.Images) > 0 || m.Audio != nil || m.Parsed != nil
}

func (m AssistantMessage) withBase(b base) Message { m.base = b; return m }

// ToolMessage carries a tool's result back into the conversation.
type ToolMessage struct {
	base
	Content    string
	ToolCallID string
	Name       string
}

// NewToolMessage constructs a ToolMessage with a fresh MessageID.
func NewToolMessage(content, toolCallID, name string) ToolMessage {
	return ToolMessage{
		base:       base{id: uuid.NewString(), role: RoleTool},
		Content:    content,
		ToolCallID: toolCallID,
		Name:       name,
	}
}

func (m ToolMessage) withBase(b base) Message { m.base = b; return m }

// WithLineage returns a copy of msg with PredecessorID, SessionID, and
// Timestamp set, used by Conversation.add to backfill the append-only chain
// without mutating the original value (§4.3).
func WithLineage(msg Message, predecessorID, sessionID string, timestampMs int64) Message {
	b := base{
		id:            msg.MessageID(),
		role:          msg.Role(),
		timestamp:     timestampMs,
		predecessorID: predecessorID,
		sessionID:     sessionID,
	}
	return msg.withBase(b)
}

// ConversationState classifies a Conversation by its tail message, per §3.
type ConversationState string

const (
	StateGenerate   ConversationState = "GENERATE"
	StateExecute    ConversationState = "EXECUTE"
	StateTerminate  ConversationState = "TERMINATE"
	StateIncomplete ConversationState = "INCOMPLETE"
)

// DeriveState classifies a conversation from its last message, or
// StateIncomplete if messages is empty or holds only a SystemMessage.
func DeriveState(messages []Message) ConversationState {
	var last Message
	for _, msg := range messages {
		if _, ok := msg.(SystemMessage); ok {
			continue
		}
		last = msg
	}
	if last == nil {
		return StateIncomplete
	}
	switch m := last.(type) {
	case AssistantMessage:
		if len(m.ToolCalls) > 0 {
			return StateExecute
		}
		return StateTerminate
	case UserMessage, ToolMessage:
		return StateGenerate
	default:
		return StateIncomplete
	}
}
