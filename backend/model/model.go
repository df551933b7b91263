package model

import (
	"context"
	"strings"
)

type ProviderKind string

const (
	ProviderKindAnthropic ProviderKind = "anthropic"
	ProviderKindOpenAI    ProviderKind = "openai"
	ProviderKindDeepSeek  ProviderKind = "deepseek"
	ProviderKindGemini    ProviderKind = "gemini"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage is used as a prefill: providers continue its content.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

type SamplingParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	// ThinkingBudget enables extended thinking on providers that require it
	// to be requested explicitly. Zero leaves it off.
	ThinkingBudget int
}

type ContentBlockType string

const (
	ContentBlockTypeText      ContentBlockType = "text"
	ContentBlockTypeReasoning ContentBlockType = "reasoning"
)

type ContentBlock interface {
	Type() ContentBlockType
	Content() string
}

type TextBlock struct {
	Text string
}

func (t *TextBlock) Type() ContentBlockType { return ContentBlockTypeText }
func (t *TextBlock) Content() string        { return t.Text }

// ReasoningBlock carries a model's reasoning trace, kept apart from the
// answer until the response leaves the model layer.
type ReasoningBlock struct {
	Text string
}

func (r *ReasoningBlock) Type() ContentBlockType { return ContentBlockTypeReasoning }
func (r *ReasoningBlock) Content() string        { return r.Text }

type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type Response struct {
	Content []ContentBlock
	Usage   Usage
}

// Text flattens the response into marker-delimited form.
func (r *Response) Text() string {
	return Flatten(r.Content)
}

const (
	ReasoningOpen  = "<think>"
	ReasoningClose = "\n</think>\n"
)

// Flatten renders blocks as one string with reasoning wrapped in
// ReasoningOpen/ReasoningClose. A trailing reasoning section is closed.
func Flatten(blocks []ContentBlock) string {
	var w MarkerWriter
	for _, block := range blocks {
		w.Write(block)
	}
	w.Close()
	return w.String()
}

// MarkerWriter flattens blocks incrementally, emitting a marker only when the
// stream switches between reasoning and answer text.
type MarkerWriter struct {
	reasoning bool
	b         strings.Builder
}

// Write appends block and returns the text it added, markers included.
func (w *MarkerWriter) Write(block ContentBlock) string {
	var added strings.Builder
	switch block.Type() {
	case ContentBlockTypeReasoning:
		if !w.reasoning {
			added.WriteString(ReasoningOpen)
			w.reasoning = true
		}
	case ContentBlockTypeText:
		if w.reasoning {
			added.WriteString(ReasoningClose)
			w.reasoning = false
		}
	}
	added.WriteString(block.Content())

	s := added.String()
	w.b.WriteString(s)
	return s
}

// Close terminates an open reasoning section.
func (w *MarkerWriter) Close() string {
	if !w.reasoning {
		return ""
	}
	w.reasoning = false
	w.b.WriteString(ReasoningClose)
	return ReasoningClose
}

func (w *MarkerWriter) String() string {
	return w.b.String()
}

// Chunk is one increment of a streamed response. A chunk carries either a
// content delta, a usage report, or the error that ended the stream.
type Chunk struct {
	Block        ContentBlock
	OutputTokens int64
	Err          error
}

//go:generate mockgen -destination=mocks/provider_mock.go -package=mocks . Provider
type Provider interface {
	Kind() ProviderKind
	// Generate blocks until the full response is available.
	Generate(ctx context.Context, model string, messages []Message, params SamplingParams) (*Response, error)
	// Stream returns a channel that is closed when the response ends. A
	// failure is delivered as the last chunk. Cancelling ctx abandons the
	// stream.
	Stream(ctx context.Context, model string, messages []Message, params SamplingParams) <-chan Chunk
}

const streamBufferSize = 64

// streamChunks runs produce on its own goroutine and forwards what it emits.
// emit reports false once ctx is done and the producer should stop.
func streamChunks(ctx context.Context, produce func(emit func(Chunk) bool) error) <-chan Chunk {
	ch := make(chan Chunk, streamBufferSize)
	emit := func(c Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		if err := produce(emit); err != nil {
			emit(Chunk{Err: err})
		}
	}()
	return ch
}
