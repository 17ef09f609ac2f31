// Package bedrock implements the provider adapter for AWS Bedrock's
// Converse API (SPEC_FULL.md §4.5), the Anthropic-family sibling deployed
// inside an AWS account instead of directly against Anthropic's endpoint.
package bedrock

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/request"
)

const defaultMaxTokens = int32(4096)

// RuntimeClient captures the subset of the Bedrock runtime client the
// adapter uses, matching *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Adapter implements provider.Adapter on top of AWS Bedrock Converse.
type Adapter struct {
	runtime RuntimeClient
}

func New(runtime RuntimeClient) *Adapter { return &Adapter{runtime: runtime} }

func (a *Adapter) Translate(_ context.Context, req *request.Request) (any, error) {
	if len(req.Messages) == 0 {
		return nil, conduiterr.New(conduiterr.BadRequest, "bedrock: at least one message is required", nil)
	}

	var system []brtypes.SystemContentBlockMemberText
	var msgs []brtypes.Message
	for _, m := range req.Messages {
		switch v := m.(type) {
		case model.SystemMessage:
			if v.Content != "" {
				system = append(system, brtypes.SystemContentBlockMemberText{Value: v.Content})
			}
		case model.UserMessage:
			msgs = append(msgs, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: v.Content}},
			})
		case model.AssistantMessage:
			blocks, err := encodeAssistantBlocks(v)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
		case model.ToolMessage:
			msgs = append(msgs, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(v.ToolCallID),
						Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: v.Content}},
					},
				}},
			})
		default:
			return nil, conduiterr.New(conduiterr.BadRequest, "bedrock: unsupported message variant", nil)
		}
	}
	if len(msgs) == 0 {
		return nil, conduiterr.New(conduiterr.BadRequest, "bedrock: at least one user/assistant message is required", nil)
	}

	maxTokens := defaultMaxTokens
	if req.Params.MaxTokens != nil && *req.Params.MaxTokens > 0 {
		maxTokens = int32(*req.Params.MaxTokens)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Params.Model),
		Messages: msgs,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(maxTokens),
		},
	}
	if len(system) > 0 {
		blocks := make([]brtypes.SystemContentBlock, len(system))
		for i := range system {
			blocks[i] = &system[i]
		}
		input.System = blocks
	}
	if req.Params.Temperature != nil {
		t := float32(*req.Params.Temperature)
		input.InferenceConfig.Temperature = aws.Float32(t)
	}
	return input, nil
}

func encodeAssistantBlocks(m model.AssistantMessage) ([]brtypes.ContentBlock, error) {
	var blocks []brtypes.ContentBlock
	if m.Content != "" {
		blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
	}
	for _, tc := range m.ToolCalls {
		doc, err := encodeDocument(tc.Arguments)
		if err != nil {
			return nil, conduiterr.New(conduiterr.BadRequest, "bedrock: tool call arguments could not be encoded", err)
		}
		blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
			Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String(tc.ToolCallID),
				Name:      aws.String(tc.FunctionName),
				Input:     doc,
			},
		})
	}
	if len(blocks) == 0 {
		return nil, conduiterr.New(conduiterr.BadRequest, "bedrock: assistant message has no encodable content", nil)
	}
	return blocks, nil
}

func encodeDocument(v map[string]any) (document.Interface, error) {
	return document.NewLazyDocument(v), nil
}

func decodeDocument(d document.Interface) map[string]any {
	if d == nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := d.UnmarshalSmithyDocument(&m); err != nil {
		return map[string]any{}
	}
	return m
}

func (a *Adapter) Execute(ctx context.Context, wirePayload any) (any, error) {
	input, ok := wirePayload.(*bedrockruntime.ConverseInput)
	if !ok {
		return nil, conduiterr.New(conduiterr.BadRequest, "bedrock: unexpected wire payload type", nil)
	}
	out, err := a.runtime.Converse(ctx, input)
	if err != nil {
		return nil, classifyError(err)
	}
	return out, nil
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apierr smithy.APIError
	if errors.As(err, &apierr) {
		switch apierr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException":
			return conduiterr.New(conduiterr.AuthError, "bedrock: authentication failed", err)
		case "ThrottlingException", "TooManyRequestsException":
			return conduiterr.New(conduiterr.RateLimited, "bedrock: rate limited", err)
		case "ModelTimeoutException":
			return conduiterr.New(conduiterr.Timeout, "bedrock: request timed out", err)
		case "ServiceUnavailableException", "InternalServerException":
			return conduiterr.New(conduiterr.UpstreamUnavailable, "bedrock: upstream unavailable", err)
		case "ValidationException":
			return conduiterr.New(conduiterr.BadRequest, "bedrock: validation error", err)
		case "ModelStreamErrorException":
			return conduiterr.New(conduiterr.ContextTooLarge, "bedrock: context too large", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return conduiterr.New(conduiterr.Timeout, "bedrock: request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return conduiterr.New(conduiterr.Cancelled, "bedrock: request cancelled", err)
	}
	return conduiterr.New(conduiterr.NetworkError, "bedrock: network error", err)
}

func (a *Adapter) Normalize(_ context.Context, wireReply any, req *request.Request, elapsedMs int64) (*request.Response, error) {
	out, ok := wireReply.(*bedrockruntime.ConverseOutput)
	if !ok {
		return nil, conduiterr.New(conduiterr.BadRequest, "bedrock: unexpected wire reply type", nil)
	}
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, conduiterr.New(conduiterr.ContentRefused, "bedrock: no message in converse output", nil)
	}

	am := model.AssistantMessage{}
	for _, block := range msgOutput.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			am.Content += v.Value
		case *brtypes.ContentBlockMemberToolUse:
			am.ToolCalls = append(am.ToolCalls, model.ToolCall{
				ToolCallID:   aws.ToString(v.Value.ToolUseId),
				Type:         "function",
				FunctionName: aws.ToString(v.Value.Name),
				Arguments:    decodeDocument(v.Value.Input),
			})
		}
	}
	if am.Content == "" && len(am.ToolCalls) == 0 {
		return nil, conduiterr.New(conduiterr.ContentRefused, "bedrock: empty reply content", nil)
	}
	assistant := model.NewAssistantMessage(am)

	stop := request.StopStop
	switch out.StopReason {
	case brtypes.StopReasonToolUse:
		stop = request.StopToolCalls
	case brtypes.StopReasonMaxTokens:
		stop = request.StopLength
	case brtypes.StopReasonContentFiltered:
		stop = request.StopContentFilter
	}

	usage := out.Usage
	return &request.Response{
		Message: assistant,
		Request: req,
		Metadata: request.ResponseMetadata{
			DurationMs:   elapsedMs,
			ModelSlug:    req.Params.Model,
			InputTokens:  int(aws.ToInt32(usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(usage.OutputTokens)),
			StopReason:   stop,
		},
	}, nil
}
