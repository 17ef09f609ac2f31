// Package anthropic implements the Anthropic-family provider adapter
// (Claude Messages API) described in SPEC_FULL.md §4.5: system messages are
// extracted and joined, temperature is clamped to [0,1], and max_tokens
// defaults to 4096 when the request does not specify one.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/request"
)

const defaultMaxTokens = 4096

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter so tests can substitute a fake in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Adapter implements provider.Adapter on top of Anthropic Claude Messages.
type Adapter struct {
	msg MessagesClient
}

// New builds an Anthropic adapter from an explicit MessagesClient, allowing
// tests to inject a fake.
func New(msg MessagesClient) *Adapter {
	return &Adapter{msg: msg}
}

// NewFromAPIKey constructs an adapter using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string) *Adapter {
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages)
}

func (a *Adapter) Translate(_ context.Context, req *request.Request) (any, error) {
	if len(req.Messages) == 0 {
		return nil, conduiterr.New(conduiterr.BadRequest, "anthropic: at least one message is required", nil)
	}

	var systemParts []string
	var msgs []sdk.MessageParam
	for _, m := range req.Messages {
		switch v := m.(type) {
		case model.SystemMessage:
			if v.Content != "" {
				systemParts = append(systemParts, v.Content)
			}
		case model.UserMessage:
			msgs = append(msgs, sdk.NewUserMessage(encodeUserBlocks(v)...))
		case model.AssistantMessage:
			blocks, err := encodeAssistantBlocks(v)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
		case model.ToolMessage:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewToolResultBlock(v.ToolCallID, v.Content, false)))
		default:
			return nil, conduiterr.New(conduiterr.BadRequest, fmt.Sprintf("anthropic: unsupported message variant %T", m), nil)
		}
	}
	if len(msgs) == 0 {
		return nil, conduiterr.New(conduiterr.BadRequest, "anthropic: at least one user/assistant message is required", nil)
	}

	maxTokens := defaultMaxTokens
	if req.Params.MaxTokens != nil && *req.Params.MaxTokens > 0 {
		maxTokens = *req.Params.MaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Params.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.Params.System != "" {
		systemParts = append([]string{req.Params.System}, systemParts...)
	}
	if len(systemParts) > 0 {
		params.System = []sdk.TextBlockParam{{Text: strings.Join(systemParts, "\n\n")}}
	}
	if req.Params.Temperature != nil {
		t := clampTemperature(*req.Params.Temperature)
		params.Temperature = sdk.Float(t)
	}
	return &params, nil
}

func clampTemperature(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

func encodeUserBlocks(m model.UserMessage) []sdk.ContentBlockParamUnion {
	if len(m.Blocks) == 0 {
		if m.Content == "" {
			return nil
		}
		return []sdk.ContentBlockParamUnion{sdk.NewTextBlock(m.Content)}
	}
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		switch v := b.(type) {
		case model.TextBlock:
			blocks = append(blocks, sdk.NewTextBlock(v.Text))
		case model.ImageBlock:
			blocks = append(blocks, sdk.NewImageBlock(sdk.Base64ImageSourceParam{Data: v.URL}))
		case model.AudioBlock:
			// Claude Messages has no native audio input block; the original
			// ingests audio only on the output side (TTS replies).
		}
	}
	return blocks
}

func encodeAssistantBlocks(m model.AssistantMessage) ([]sdk.ContentBlockParamUnion, error) {
	var blocks []sdk.ContentBlockParamUnion
	if m.Content != "" {
		blocks = append(blocks, sdk.NewTextBlock(m.Content))
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, sdk.NewToolUseBlock(tc.ToolCallID, tc.Arguments, tc.FunctionName))
	}
	if len(blocks) == 0 {
		return nil, conduiterr.New(conduiterr.BadRequest, "anthropic: assistant message has no encodable content", nil)
	}
	return blocks, nil
}

func (a *Adapter) Execute(ctx context.Context, wirePayload any) (any, error) {
	params, ok := wirePayload.(*sdk.MessageNewParams)
	if !ok {
		return nil, conduiterr.New(conduiterr.BadRequest, "anthropic: unexpected wire payload type", nil)
	}
	msg, err := a.msg.New(ctx, *params)
	if err != nil {
		return nil, classifyError(err)
	}
	return msg, nil
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 401, 403:
			return conduiterr.New(conduiterr.AuthError, "anthropic: authentication failed", err)
		case 429:
			return conduiterr.New(conduiterr.RateLimited, "anthropic: rate limited", err)
		case 408:
			return conduiterr.New(conduiterr.Timeout, "anthropic: request timed out", err)
		default:
			if apierr.StatusCode >= 500 {
				return conduiterr.New(conduiterr.UpstreamUnavailable, "anthropic: upstream unavailable", err)
			}
			return conduiterr.New(conduiterr.BadRequest, "anthropic: bad request", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return conduiterr.New(conduiterr.Timeout, "anthropic: request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return conduiterr.New(conduiterr.Cancelled, "anthropic: request cancelled", err)
	}
	return conduiterr.New(conduiterr.NetworkError, "anthropic: network error", err)
}

func (a *Adapter) Normalize(_ context.Context, wireReply any, req *request.Request, elapsedMs int64) (*request.Response, error) {
	msg, ok := wireReply.(*sdk.Message)
	if !ok {
		return nil, conduiterr.New(conduiterr.BadRequest, "anthropic: unexpected wire reply type", nil)
	}

	am := model.AssistantMessage{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			am.Content += block.Text
		case "thinking":
			am.Reasoning += block.Thinking
		case "tool_use":
			am.ToolCalls = append(am.ToolCalls, model.ToolCall{
				ToolCallID:   block.ID,
				Type:         "function",
				FunctionName: block.Name,
				Arguments:    decodeToolInput(block.Input),
			})
		}
	}
	if am.Content == "" && am.Reasoning == "" && len(am.ToolCalls) == 0 {
		return nil, conduiterr.New(conduiterr.ContentRefused, "anthropic: empty reply content", nil)
	}
	assistant := model.NewAssistantMessage(am)

	stop := request.StopStop
	if len(am.ToolCalls) > 0 {
		stop = request.StopToolCalls
	} else if string(msg.StopReason) == "max_tokens" {
		stop = request.StopLength
	}

	return &request.Response{
		Message: assistant,
		Request: req,
		Metadata: request.ResponseMetadata{
			DurationMs:   elapsedMs,
			ModelSlug:    string(msg.Model),
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			StopReason:   stop,
		},
	}, nil
}

func decodeToolInput(raw any) map[string]any {
	if m, ok := raw.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
