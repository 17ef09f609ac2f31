package model

import (
	"encoding/json"
	"fmt"
)

// jsonEnvelope is the stable discriminated wire form for a Message: a Kind
// tag plus the variant's own fields. Content blocks and tool calls marshal
// through their own exported fields, so canonical_json (§4.4) sorting of
// object keys is deterministic without any custom field ordering here.
type jsonEnvelope struct {
	Kind          string          `json:"kind"`
	MessageID     string          `json:"message_id"`
	Timestamp     int64           `json:"timestamp"`
	PredecessorID string          `json:"predecessor_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Content       string          `json:"content,omitempty"`
	Blocks        []blockEnvelope `json:"blocks,omitempty"`
	Reasoning     string          `json:"reasoning,omitempty"`
	ToolCalls     []ToolCall      `json:"tool_calls,omitempty"`
	Images        []ImageOutput   `json:"images,omitempty"`
	Audio         *AudioOutput    `json:"audio,omitempty"`
	Parsed        any             `json:"parsed,omitempty"`
	ToolCallID    string          `json:"tool_call_id,omitempty"`
	Name          string          `json:"name,omitempty"`
}

type blockEnvelope struct {
	Kind   string `json:"kind"`
	Text   string `json:"text,omitempty"`
	URL    string `json:"url,omitempty"`
	Detail string `json:"detail,omitempty"`
	Base64 string `json:"base64,omitempty"`
	Format string `json:"format,omitempty"`
}

func encodeBlock(b ContentBlock) (blockEnvelope, error) {
	switch v := b.(type) {
	case TextBlock:
		return blockEnvelope{Kind: "text", Text: v.Text}, nil
	case ImageBlock:
		return blockEnvelope{Kind: "image", URL: v.URL, Detail: v.Detail}, nil
	case AudioBlock:
		return blockEnvelope{Kind: "audio", Base64: v.Base64, Format: v.Format}, nil
	default:
		return blockEnvelope{}, fmt.Errorf("model: unknown content block type %T", b)
	}
}

func decodeBlock(e blockEnvelope) (ContentBlock, error) {
	switch e.Kind {
	case "text":
		return TextBlock{Text: e.Text}, nil
	case "image":
		return ImageBlock{URL: e.URL, Detail: e.Detail}, nil
	case "audio":
		return AudioBlock{Base64: e.Base64, Format: e.Format}, nil
	default:
		return nil, fmt.Errorf("model: unknown content block kind %q", e.Kind)
	}
}

// MarshalMessage encodes any Message variant into its canonical discriminated
// JSON form.
func MarshalMessage(msg Message) ([]byte, error) {
	env := jsonEnvelope{
		MessageID:     msg.MessageID(),
		Timestamp:     msg.Timestamp(),
		PredecessorID: msg.PredecessorID(),
		SessionID:     msg.SessionID(),
	}
	switch m := msg.(type) {
	case SystemMessage:
		env.Kind = "system"
		env.Content = m.Content
	case UserMessage:
		env.Kind = "user"
		env.Content = m.Content
		for _, b := range m.Blocks {
			be, err := encodeBlock(b)
			if err != nil {
				return nil, err
			}
			env.Blocks = append(env.Blocks, be)
		}
	case AssistantMessage:
		env.Kind = "assistant"
		env.Content = m.Content
		env.Reasoning = m.Reasoning
		env.ToolCalls = m.ToolCalls
		env.Images = m.Images
		env.Audio = m.Audio
		env.Parsed = m.Parsed
	case ToolMessage:
		env.Kind = "tool"
		env.Content = m.Content
		env.ToolCallID = m.ToolCallID
		env.Name = m.Name
	default:
		return nil, fmt.Errorf("model: unknown message type %T", msg)
	}
	return json.Marshal(env)
}

// UnmarshalMessage decodes a canonical discriminated Message, dispatching on
// the Kind tag to the matching variant.
func UnmarshalMessage(data []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("model: decode message envelope: %w", err)
	}
	b := base{
		id:            env.MessageID,
		timestamp:     env.Timestamp,
		predecessorID: env.PredecessorID,
		sessionID:     env.SessionID,
	}
	switch env.Kind {
	case "system":
		b.role = RoleSystem
		return SystemMessage{base: b, Content: env.Content}, nil
	case "user":
		b.role = RoleUser
		blocks := make([]ContentBlock, 0, len(env.Blocks))
		for _, be := range env.Blocks {
			block, err := decodeBlock(be)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
		}
		return UserMessage{base: b, Content: env.Content, Blocks: blocks}, nil
	case "assistant":
		b.role = RoleAssistant
		return AssistantMessage{
			base:      b,
			Content:   env.Content,
			Reasoning: env.Reasoning,
			ToolCalls: env.ToolCalls,
			Images:    env.Images,
			Audio:     env.Audio,
			Parsed:    env.Parsed,
		}, nil
	case "tool":
		b.role = RoleTool
		return ToolMessage{base: b, Content: env.Content, ToolCallID: env.ToolCallID, Name: env.Name}, nil
	default:
		return nil, fmt.Errorf("model: unknown message kind %q", env.Kind)
	}
}
