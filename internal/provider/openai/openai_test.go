package openai

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/request"
)

type fakeChatClient struct {
	resp *openai.ChatCompletion
	err  error
	got  openai.ChatCompletionNewParams
}

func (f *fakeChatClient) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.got = body
	return f.resp, f.err
}

func TestTranslateUsesMaxCompletionTokensForReasoningModels(t *testing.T) {
	a := New(&fakeChatClient{})
	maxTok := 500
	req := &request.Request{
		Messages: []model.Message{model.NewUserMessage("hi")},
		Params:   request.Params{Model: "o3-mini", MaxTokens: &maxTok},
	}
	wire, err := a.Translate(context.Background(), req)
	require.NoError(t, err)
	params := wire.(*openai.ChatCompletionNewParams)
	assert.True(t, params.MaxCompletionTokens.Valid())
	assert.False(t, params.MaxTokens.Valid())
}

func TestTranslateUsesMaxTokensForNonReasoningModels(t *testing.T) {
	a := New(&fakeChatClient{})
	maxTok := 500
	req := &request.Request{
		Messages: []model.Message{model.NewUserMessage("hi")},
		Params:   request.Params{Model: "gpt-4o", MaxTokens: &maxTok},
	}
	wire, err := a.Translate(context.Background(), req)
	require.NoError(t, err)
	params := wire.(*openai.ChatCompletionNewParams)
	assert.True(t, params.MaxTokens.Valid())
	assert.False(t, params.MaxCompletionTokens.Valid())
}

func TestNormalizeNoChoicesIsContentRefused(t *testing.T) {
	a := New(&fakeChatClient{})
	req := &request.Request{Messages: []model.Message{model.NewUserMessage("hi")}}
	_, err := a.Normalize(context.Background(), &openai.ChatCompletion{}, req, 5)
	require.Error(t, err)
	cerr, ok := conduiterr.As(err)
	require.True(t, ok)
	assert.Equal(t, conduiterr.ContentRefused, cerr.Kind)
}
