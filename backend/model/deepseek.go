package model

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cohesion-org/deepseek-go"
	"github.com/cohesion-org/deepseek-go/constants"
)

// DeepSeekProvider uses the native client, which exposes the reasoner's
// thinking trace as a typed field.
type DeepSeekProvider struct {
	client *deepseek.Client
}

func NewDeepSeekProvider(apiKey, baseURL string) (*DeepSeekProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}

	var client *deepseek.Client
	if baseURL != "" {
		client = deepseek.NewClient(apiKey, baseURL)
	} else {
		client = deepseek.NewClient(apiKey)
	}
	return &DeepSeekProvider{client: client}, nil
}

func (p *DeepSeekProvider) Kind() ProviderKind {
	return ProviderKindDeepSeek
}

func (p *DeepSeekProvider) Generate(ctx context.Context, model string, messages []Message, params SamplingParams) (*Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, &deepseek.ChatCompletionRequest{
		Model:       model,
		Messages:    toDeepSeekMessages(messages),
		MaxTokens:   params.MaxTokens,
		Temperature: float32(params.Temperature),
		TopP:        float32(params.TopP),
	})
	if err != nil {
		return nil, toProviderError(ProviderKindDeepSeek, err, 0, nil)
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError(ProviderKindDeepSeek, ProviderErrorKindUnknown, errors.New("response has no choices"))
	}

	message := resp.Choices[0].Message
	var content []ContentBlock
	if message.ReasoningContent != "" {
		content = append(content, &ReasoningBlock{Text: message.ReasoningContent})
	}
	if message.Content != "" {
		content = append(content, &TextBlock{Text: message.Content})
	}

	return &Response{
		Content: content,
		Usage: Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (p *DeepSeekProvider) Stream(ctx context.Context, model string, messages []Message, params SamplingParams) <-chan Chunk {
	return streamChunks(ctx, func(emit func(Chunk) bool) error {
		stream, err := p.client.CreateChatCompletionStream(ctx, &deepseek.StreamChatCompletionRequest{
			Stream:        true,
			StreamOptions: deepseek.StreamOptions{IncludeUsage: true},
			Model:         model,
			Messages:      toDeepSeekMessages(messages),
			MaxTokens:     params.MaxTokens,
			Temperature:   float32(params.Temperature),
			TopP:          float32(params.TopP),
		})
		if err != nil {
			return toProviderError(ProviderKindDeepSeek, err, 0, nil)
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return toProviderError(ProviderKindDeepSeek, err, 0, nil)
			}

			var chunks []Chunk
			if len(resp.Choices) > 0 {
				delta := resp.Choices[0].Delta
				if delta.ReasoningContent != "" {
					chunks = append(chunks, Chunk{Block: &ReasoningBlock{Text: delta.ReasoningContent}})
				}
				if delta.Content != "" {
					chunks = append(chunks, Chunk{Block: &TextBlock{Text: delta.Content}})
				}
			}
			if resp.Usage != nil && resp.Usage.CompletionTokens > 0 {
				chunks = append(chunks, Chunk{OutputTokens: int64(resp.Usage.CompletionTokens)})
			}

			for _, chunk := range chunks {
				if !emit(chunk) {
					return nil
				}
			}
		}
	})
}

func toDeepSeekMessages(messages []Message) []deepseek.ChatCompletionMessage {
	out := make([]deepseek.ChatCompletionMessage, 0, len(messages))
	for _, message := range messages {
		role := constants.ChatMessageRoleUser
		if message.Role == RoleAssistant {
			role = constants.ChatMessageRoleAssistant
		}
		out = append(out, deepseek.ChatCompletionMessage{
			Role:    role,
			Content: message.Content,
		})
	}
	return out
}

var _ Provider = (*DeepSeekProvider)(nil)
