// Package openai implements the OpenAI-family provider adapter described in
// SPEC_FULL.md §4.5: client parameters are merged flatly, reasoning-model
// families take max_completion_tokens in place of max_tokens, and structured
// outputs are requested via native JSON-schema response formatting whenever
// ResponseModel is set; no per-model capability check is made.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/request"
)

// reasoningModelPrefixes names OpenAI model families that reject
// max_tokens and require max_completion_tokens instead.
var reasoningModelPrefixes = []string{"o1", "o3", "o4"}

// ChatClient captures the subset of the OpenAI SDK used by the adapter.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Adapter implements provider.Adapter via the OpenAI Chat Completions API.
type Adapter struct {
	chat ChatClient
}

func New(chat ChatClient) *Adapter { return &Adapter{chat: chat} }

func NewFromAPIKey(apiKey string) *Adapter {
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions)
}

func usesMaxCompletionTokens(modelID string) bool {
	for _, prefix := range reasoningModelPrefixes {
		if strings.HasPrefix(modelID, prefix) {
			return true
		}
	}
	return false
}

func (a *Adapter) Translate(_ context.Context, req *request.Request) (any, error) {
	if len(req.Messages) == 0 {
		return nil, conduiterr.New(conduiterr.BadRequest, "openai: at least one message is required", nil)
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.Params.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.Params.System))
	}
	for _, m := range req.Messages {
		switch v := m.(type) {
		case model.SystemMessage:
			msgs = append(msgs, openai.SystemMessage(v.Content))
		case model.UserMessage:
			msgs = append(msgs, openai.UserMessage(v.Content))
		case model.AssistantMessage:
			msgs = append(msgs, openai.AssistantMessage(v.Content))
		case model.ToolMessage:
			msgs = append(msgs, openai.ToolMessage(v.Content, v.ToolCallID))
		default:
			return nil, conduiterr.New(conduiterr.BadRequest, "openai: unsupported message variant", nil)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Params.Model),
		Messages: msgs,
	}
	if req.Params.MaxTokens != nil && *req.Params.MaxTokens > 0 {
		if usesMaxCompletionTokens(req.Params.Model) {
			params.MaxCompletionTokens = openai.Int(int64(*req.Params.MaxTokens))
		} else {
			params.MaxTokens = openai.Int(int64(*req.Params.MaxTokens))
		}
	}
	if req.Params.Temperature != nil {
		params.Temperature = openai.Float(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		params.TopP = openai.Float(*req.Params.TopP)
	}
	// Client params merge flatly into the wire payload's extra-fields bag,
	// on top of anything already derived above, so caller-supplied knobs
	// (seed, stop, frequency_penalty, ...) reach the wire instead of being
	// silently dropped while still counting toward the cache key (§4.4).
	if len(req.Params.ClientParams) > 0 {
		if params.ExtraFields == nil {
			params.ExtraFields = map[string]any{}
		}
		for k, v := range req.Params.ClientParams {
			params.ExtraFields[k] = v
		}
	}
	if req.Params.ResponseModel != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: req.Params.ResponseModel,
					Strict: openai.Bool(true),
				},
			},
		}
	}
	return &params, nil
}

func (a *Adapter) Execute(ctx context.Context, wirePayload any) (any, error) {
	params, ok := wirePayload.(*openai.ChatCompletionNewParams)
	if !ok {
		return nil, conduiterr.New(conduiterr.BadRequest, "openai: unexpected wire payload type", nil)
	}
	resp, err := a.chat.New(ctx, *params)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 401, 403:
			return conduiterr.New(conduiterr.AuthError, "openai: authentication failed", err)
		case 429:
			return conduiterr.New(conduiterr.RateLimited, "openai: rate limited", err)
		case 408:
			return conduiterr.New(conduiterr.Timeout, "openai: request timed out", err)
		default:
			if apierr.StatusCode >= 500 {
				return conduiterr.New(conduiterr.UpstreamUnavailable, "openai: upstream unavailable", err)
			}
			return conduiterr.New(conduiterr.BadRequest, "openai: bad request", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return conduiterr.New(conduiterr.Timeout, "openai: request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return conduiterr.New(conduiterr.Cancelled, "openai: request cancelled", err)
	}
	return conduiterr.New(conduiterr.NetworkError, "openai: network error", err)
}

func decodeArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (a *Adapter) Normalize(_ context.Context, wireReply any, req *request.Request, elapsedMs int64) (*request.Response, error) {
	resp, ok := wireReply.(*openai.ChatCompletion)
	if !ok {
		return nil, conduiterr.New(conduiterr.BadRequest, "openai: unexpected wire reply type", nil)
	}
	if len(resp.Choices) == 0 {
		return nil, conduiterr.New(conduiterr.ContentRefused, "openai: no choices returned", nil)
	}
	choice := resp.Choices[0]

	am := model.AssistantMessage{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			return nil, conduiterr.New(conduiterr.SchemaMismatch, "openai: tool call arguments are not valid JSON", err)
		}
		am.ToolCalls = append(am.ToolCalls, model.ToolCall{
			ToolCallID:   tc.ID,
			Type:         "function",
			FunctionName: tc.Function.Name,
			Arguments:    args,
		})
	}
	if req.Params.ResponseModel != nil && am.Content != "" {
		parsed, err := decodeArguments(am.Content)
		if err == nil {
			am.Parsed = parsed
		}
	}
	if am.Content == "" && len(am.ToolCalls) == 0 {
		return nil, conduiterr.New(conduiterr.ContentRefused, "openai: empty reply content", nil)
	}
	assistant := model.NewAssistantMessage(am)

	stop := request.StopStop
	switch choice.FinishReason {
	case "tool_calls":
		stop = request.StopToolCalls
	case "length":
		stop = request.StopLength
	case "content_filter":
		stop = request.StopContentFilter
	}

	return &request.Response{
		Message: assistant,
		Request: req,
		Metadata: request.ResponseMetadata{
			DurationMs:   elapsedMs,
			ModelSlug:    resp.Model,
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			StopReason:   stop,
		},
	}, nil
}
