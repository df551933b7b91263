package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey, baseURL string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(clientOptions...),
	}, nil
}

func (p *AnthropicProvider) Kind() ProviderKind {
	return ProviderKindAnthropic
}

func (p *AnthropicProvider) Generate(ctx context.Context, model string, messages []Message, params SamplingParams) (*Response, error) {
	message, err := p.client.Messages.New(ctx, anthropicRequest(model, messages, params))
	if err != nil {
		return nil, p.parseError(err)
	}

	var content []ContentBlock
	for _, block := range message.Content {
		switch block := block.AsAny().(type) {
		case anthropic.ThinkingBlock:
			content = append(content, &ReasoningBlock{Text: block.Thinking})
		case anthropic.TextBlock:
			content = append(content, &TextBlock{Text: block.Text})
		}
	}

	return &Response{
		Content: content,
		Usage: Usage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
	}, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, model string, messages []Message, params SamplingParams) <-chan Chunk {
	return streamChunks(ctx, func(emit func(Chunk) bool) error {
		stream := p.client.Messages.NewStreaming(ctx, anthropicRequest(model, messages, params))
		defer stream.Close()

		for stream.Next() {
			var chunk Chunk
			switch event := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := event.Delta.AsAny().(type) {
				case anthropic.ThinkingDelta:
					chunk.Block = &ReasoningBlock{Text: delta.Thinking}
				case anthropic.TextDelta:
					chunk.Block = &TextBlock{Text: delta.Text}
				}
			case anthropic.MessageDeltaEvent:
				chunk.OutputTokens = event.Usage.OutputTokens
			}

			if chunk.Block == nil && chunk.OutputTokens == 0 {
				continue
			}
			if !emit(chunk) {
				return nil
			}
		}
		if err := stream.Err(); err != nil {
			return p.parseError(err)
		}
		return nil
	})
}

func anthropicRequest(model string, messages []Message, params SamplingParams) anthropic.MessageNewParams {
	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	request := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(messages),
	}

	// Extended thinking rejects custom sampling parameters.
	if params.ThinkingBudget > 0 && maxTokens > int64(params.ThinkingBudget) {
		request.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(params.ThinkingBudget))
	} else {
		request.Temperature = anthropic.Float(params.Temperature)
		request.TopP = anthropic.Float(params.TopP)
	}
	return request
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, message := range messages {
		block := anthropic.NewTextBlock(message.Content)
		switch message.Role {
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func (p *AnthropicProvider) parseError(err error) *ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return toProviderError(ProviderKindAnthropic, err, apiErr.StatusCode, header)
	}
	return toProviderError(ProviderKindAnthropic, err, 0, nil)
}

var _ Provider = (*AnthropicProvider)(nil)
