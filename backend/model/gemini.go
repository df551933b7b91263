package model

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey, baseURL string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	config := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		config.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Kind() ProviderKind {
	return ProviderKindGemini
}

func (p *GeminiProvider) Generate(ctx context.Context, model string, messages []Message, params SamplingParams) (*Response, error) {
	resp, err := p.client.Models.GenerateContent(ctx, model, toGeminiContents(messages), geminiConfig(params))
	if err != nil {
		return nil, toProviderError(ProviderKindGemini, err, 0, nil)
	}

	out := &Response{}
	out.Content = geminiBlocks(resp)
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: geminiOutputTokens(resp.UsageMetadata),
		}
	}
	return out, nil
}

func (p *GeminiProvider) Stream(ctx context.Context, model string, messages []Message, params SamplingParams) <-chan Chunk {
	return streamChunks(ctx, func(emit func(Chunk) bool) error {
		var outputTokens int64
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, toGeminiContents(messages), geminiConfig(params)) {
			if err != nil {
				return toProviderError(ProviderKindGemini, err, 0, nil)
			}
			for _, block := range geminiBlocks(resp) {
				if !emit(Chunk{Block: block}) {
					return nil
				}
			}
			if resp.UsageMetadata != nil {
				outputTokens = geminiOutputTokens(resp.UsageMetadata)
			}
		}

		if outputTokens > 0 {
			emit(Chunk{OutputTokens: outputTokens})
		}
		return nil
	})
}

func geminiConfig(params SamplingParams) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(float32(params.Temperature)),
		TopP:           genai.Ptr(float32(params.TopP)),
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if params.MaxTokens > 0 {
		config.MaxOutputTokens = int32(params.MaxTokens)
	}
	if params.ThinkingBudget > 0 {
		config.ThinkingConfig.ThinkingBudget = genai.Ptr(int32(params.ThinkingBudget))
	}
	return config
}

func toGeminiContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, message := range messages {
		role := genai.Role(genai.RoleUser)
		if message.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(message.Content, role))
	}
	return out
}

func geminiBlocks(resp *genai.GenerateContentResponse) []ContentBlock {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}

	var blocks []ContentBlock
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if part.Thought {
			blocks = append(blocks, &ReasoningBlock{Text: part.Text})
		} else {
			blocks = append(blocks, &TextBlock{Text: part.Text})
		}
	}
	return blocks
}

func geminiOutputTokens(usage *genai.GenerateContentResponseUsageMetadata) int64 {
	return int64(usage.CandidatesTokenCount) + int64(usage.ThoughtsTokenCount)
}

var _ Provider = (*GeminiProvider)(nil)
