// Package google implements the Google-native provider adapter described in
// SPEC_FULL.md §4.5: safety settings are forced to the most permissive
// category thresholds so a refusal surfaces as ContentRefused rather than a
// silently empty candidate list.
package google

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/request"
)

// ModelsClient captures the subset of the genai SDK used by the adapter.
type ModelsClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Adapter implements provider.Adapter against Google's native GenAI API.
type Adapter struct {
	models ModelsClient
}

func New(models ModelsClient) *Adapter { return &Adapter{models: models} }

// NewFromAPIKey constructs an adapter using the default genai HTTP client.
func NewFromAPIKey(ctx context.Context, apiKey string) (*Adapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return New(client.Models), nil
}

// permissiveSafetySettings forces every harm category to BLOCK_NONE so the
// adapter, not an opaque provider-side filter, is the single place a
// refusal is surfaced (as ContentRefused, never an empty success).
func permissiveSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, len(categories))
	for i, c := range categories {
		settings[i] = &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdBlockNone}
	}
	return settings
}

type wireRequest struct {
	modelID  string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (a *Adapter) Translate(_ context.Context, req *request.Request) (any, error) {
	if len(req.Messages) == 0 {
		return nil, conduiterr.New(conduiterr.BadRequest, "google: at least one message is required", nil)
	}

	var system string
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch v := m.(type) {
		case model.SystemMessage:
			system = joinSystem(system, v.Content)
		case model.UserMessage:
			contents = append(contents, genai.NewContentFromText(v.Content, genai.RoleUser))
		case model.AssistantMessage:
			contents = append(contents, genai.NewContentFromText(v.Content, genai.RoleModel))
		case model.ToolMessage:
			contents = append(contents, genai.NewContentFromText(v.Content, genai.RoleUser))
		default:
			return nil, conduiterr.New(conduiterr.BadRequest, "google: unsupported message variant", nil)
		}
	}
	if req.Params.System != "" {
		system = joinSystem(req.Params.System, system)
	}

	cfg := &genai.GenerateContentConfig{SafetySettings: permissiveSafetySettings()}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Params.Temperature != nil {
		t := float32(*req.Params.Temperature)
		cfg.Temperature = &t
	}
	if req.Params.MaxTokens != nil {
		mt := int32(*req.Params.MaxTokens)
		cfg.MaxOutputTokens = mt
	}
	return &wireRequest{modelID: req.Params.Model, contents: contents, config: cfg}, nil
}

func joinSystem(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}

func (a *Adapter) Execute(ctx context.Context, wirePayload any) (any, error) {
	wire, ok := wirePayload.(*wireRequest)
	if !ok {
		return nil, conduiterr.New(conduiterr.BadRequest, "google: unexpected wire payload type", nil)
	}
	resp, err := a.models.GenerateContent(ctx, wire.modelID, wire.contents, wire.config)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		switch apierr.Code {
		case 401, 403:
			return conduiterr.New(conduiterr.AuthError, "google: authentication failed", err)
		case 429:
			return conduiterr.New(conduiterr.RateLimited, "google: rate limited", err)
		default:
			if apierr.Code >= 500 {
				return conduiterr.New(conduiterr.UpstreamUnavailable, "google: upstream unavailable", err)
			}
			return conduiterr.New(conduiterr.BadRequest, "google: bad request", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return conduiterr.New(conduiterr.Timeout, "google: request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return conduiterr.New(conduiterr.Cancelled, "google: request cancelled", err)
	}
	return conduiterr.New(conduiterr.NetworkError, "google: network error", err)
}

// Normalize maps a GenerateContentResponse back into a GenerationResponse.
// Per §4.5, an empty candidate list MUST raise ContentRefused carrying the
// finish-reason rather than returning empty success.
func (a *Adapter) Normalize(_ context.Context, wireReply any, req *request.Request, elapsedMs int64) (*request.Response, error) {
	resp, ok := wireReply.(*genai.GenerateContentResponse)
	if !ok {
		return nil, conduiterr.New(conduiterr.BadRequest, "google: unexpected wire reply type", nil)
	}
	if len(resp.Candidates) == 0 {
		return nil, conduiterr.New(conduiterr.ContentRefused, "google: no candidates returned", nil).
			WithDetail(&conduiterr.Detail{RawResponse: "empty candidate list"})
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" && cand.FinishReason != genai.FinishReasonStop {
		return nil, conduiterr.New(conduiterr.ContentRefused, "google: content refused: "+string(cand.FinishReason), nil)
	}

	am := model.AssistantMessage{}
	var images []model.ImageOutput
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				am.Content += part.Text
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				images = append(images, model.ImageOutput{B64JSON: string(part.InlineData.Data)})
			}
		}
	}
	if len(images) > 0 {
		am.Images = images
	}
	if am.Content == "" && len(am.Images) == 0 {
		return nil, conduiterr.New(conduiterr.ContentRefused, "google: empty reply content", nil)
	}
	assistant := model.NewAssistantMessage(am)

	var inputTokens, outputTokens int
	if resp.UsageMetadata != nil {
		inputTokens = int(resp.UsageMetadata.PromptTokenCount)
		outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return &request.Response{
		Message: assistant,
		Request: req,
		Metadata: request.ResponseMetadata{
			DurationMs:   elapsedMs,
			ModelSlug:    req.Params.Model,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			StopReason:   request.StopStop,
		},
	}, nil
}
