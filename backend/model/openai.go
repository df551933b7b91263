package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/respjson"
	"github.com/openai/openai-go/packages/ssestream"
)

// reasoningField is the non-standard field OpenAI-compatible reasoning
// endpoints use for the thinking trace.
const reasoningField = "reasoning_content"

type openAIChatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// OpenAIProvider speaks the chat completions protocol, which also covers the
// many OpenAI-compatible endpoints reachable through a custom base URL.
type OpenAIProvider struct {
	chat openAIChatService
}

func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(clientOptions...)
	return NewOpenAIProviderWithService(&client.Chat.Completions), nil
}

func NewOpenAIProviderWithService(chat openAIChatService) *OpenAIProvider {
	return &OpenAIProvider{chat: chat}
}

func (p *OpenAIProvider) Kind() ProviderKind {
	return ProviderKindOpenAI
}

func (p *OpenAIProvider) Generate(ctx context.Context, model string, messages []Message, params SamplingParams) (*Response, error) {
	completion, err := p.chat.New(ctx, p.requestParams(model, messages, params, false))
	if err != nil {
		return nil, p.parseError(err)
	}
	return responseFromCompletion(completion)
}

func (p *OpenAIProvider) Stream(ctx context.Context, model string, messages []Message, params SamplingParams) <-chan Chunk {
	return streamChunks(ctx, func(emit func(Chunk) bool) error {
		stream := p.chat.NewStreaming(ctx, p.requestParams(model, messages, params, true))
		defer stream.Close()

		for stream.Next() {
			for _, chunk := range chunksFromCompletionChunk(stream.Current()) {
				if !emit(chunk) {
					return nil
				}
			}
		}
		if err := stream.Err(); err != nil {
			return p.parseError(err)
		}
		return nil
	})
}

func (p *OpenAIProvider) requestParams(model string, messages []Message, params SamplingParams, stream bool) openai.ChatCompletionNewParams {
	request := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(params.Temperature),
		TopP:        openai.Float(params.TopP),
	}
	if params.MaxTokens > 0 {
		request.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	if stream {
		request.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}
	return request
}

func (p *OpenAIProvider) parseError(err error) *ProviderError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return toProviderError(ProviderKindOpenAI, err, apiErr.StatusCode, header)
	}
	return toProviderError(ProviderKindOpenAI, err, 0, nil)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, message := range messages {
		switch message.Role {
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(message.Content))
		default:
			out = append(out, openai.UserMessage(message.Content))
		}
	}
	return out
}

func responseFromCompletion(completion *openai.ChatCompletion) (*Response, error) {
	if len(completion.Choices) == 0 {
		return nil, NewProviderError(ProviderKindOpenAI, ProviderErrorKindUnknown, errors.New("response has no choices"))
	}

	message := completion.Choices[0].Message
	var content []ContentBlock
	if reasoning := extraString(message.JSON.ExtraFields); reasoning != "" {
		content = append(content, &ReasoningBlock{Text: reasoning})
	}
	if message.Content != "" {
		content = append(content, &TextBlock{Text: message.Content})
	}

	return &Response{
		Content: content,
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}

func chunksFromCompletionChunk(chunk openai.ChatCompletionChunk) []Chunk {
	var out []Chunk
	if len(chunk.Choices) > 0 {
		delta := chunk.Choices[0].Delta
		if reasoning := extraString(delta.JSON.ExtraFields); reasoning != "" {
			out = append(out, Chunk{Block: &ReasoningBlock{Text: reasoning}})
		}
		if delta.Content != "" {
			out = append(out, Chunk{Block: &TextBlock{Text: delta.Content}})
		}
	}
	if chunk.Usage.CompletionTokens > 0 {
		out = append(out, Chunk{OutputTokens: chunk.Usage.CompletionTokens})
	}
	return out
}

func extraString(fields map[string]respjson.Field) string {
	field, ok := fields[reasoningField]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal([]byte(field.Raw()), &s); err != nil {
		return ""
	}
	return s
}

var _ Provider = (*OpenAIProvider)(nil)
