package model_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/backend/model/mocks"
	"github.com/furisto/cadence/shared/resilience"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/mock/gomock"
)

func fastRetries() *model.ProviderOptions {
	return &model.ProviderOptions{RetryConfig: resilience.FixedDelay(time.Millisecond)}
}

func chunkChannel(chunks ...model.Chunk) <-chan model.Chunk {
	ch := make(chan model.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestRetryingProviderGenerateRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mocks.NewMockProvider(ctrl)
	inner.EXPECT().Kind().Return(model.ProviderKindDeepSeek).AnyTimes()

	want := &model.Response{Content: []model.ContentBlock{&model.TextBlock{Text: "\\boxed{U}"}}}
	transport := model.NewProviderError(model.ProviderKindDeepSeek, model.ProviderErrorKindInternal, errors.New("502"))
	gomock.InOrder(
		inner.EXPECT().Generate(gomock.Any(), "deepseek-chat", gomock.Any(), gomock.Any()).Return(nil, transport),
		inner.EXPECT().Generate(gomock.Any(), "deepseek-chat", gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset")),
		inner.EXPECT().Generate(gomock.Any(), "deepseek-chat", gomock.Any(), gomock.Any()).Return(want, nil),
	)

	provider := model.NewRetryingProvider(inner, fastRetries())
	got, err := provider.Generate(context.Background(), "deepseek-chat",
		[]model.Message{model.UserMessage("go")}, model.SamplingParams{MaxTokens: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != want {
		t.Errorf("Generate() = %v, want %v", got, want)
	}
}

func TestRetryingProviderGenerateStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mocks.NewMockProvider(ctrl)
	inner.EXPECT().Kind().Return(model.ProviderKindOpenAI).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	canceled := model.NewProviderError(model.ProviderKindOpenAI, model.ProviderErrorKindCanceled, context.Canceled)
	inner.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, []model.Message, model.SamplingParams) (*model.Response, error) {
			cancel()
			return nil, canceled
		})

	provider := model.NewRetryingProvider(inner, fastRetries())
	_, err := provider.Generate(ctx, "gpt-4o", nil, model.SamplingParams{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRetryingProviderStreamReopensUntilFirstChunk(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mocks.NewMockProvider(ctrl)
	inner.EXPECT().Kind().Return(model.ProviderKindAnthropic).AnyTimes()

	gomock.InOrder(
		inner.EXPECT().Stream(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(chunkChannel(model.Chunk{Err: errors.New("overloaded")})),
		inner.EXPECT().Stream(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(chunkChannel(
				model.Chunk{Block: &model.ReasoningBlock{Text: "think"}},
				model.Chunk{Block: &model.TextBlock{Text: "\\boxed{L}"}},
				model.Chunk{OutputTokens: 7},
			)),
	)

	provider := model.NewRetryingProvider(inner, fastRetries())

	var w model.MarkerWriter
	var tokens int64
	for chunk := range provider.Stream(context.Background(), "claude", nil, model.SamplingParams{}) {
		if chunk.Err != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
		if chunk.Block != nil {
			w.Write(chunk.Block)
		}
		tokens += chunk.OutputTokens
	}

	if diff := cmp.Diff("<think>think\n</think>\n\\boxed{L}", w.String()); diff != "" {
		t.Errorf("stream text mismatch (-want +got):\n%s", diff)
	}
	if tokens != 7 {
		t.Errorf("tokens = %d, want 7", tokens)
	}
}

func TestRetryingProviderStreamKeepsPartialOutputOnMidStreamError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mocks.NewMockProvider(ctrl)
	inner.EXPECT().Kind().Return(model.ProviderKindGemini).AnyTimes()

	midStream := errors.New("stream reset")
	inner.EXPECT().Stream(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(chunkChannel(
			model.Chunk{Block: &model.TextBlock{Text: "partial"}},
			model.Chunk{Err: midStream},
		)).Times(1)

	provider := model.NewRetryingProvider(inner, fastRetries())

	var got []model.Chunk
	for chunk := range provider.Stream(context.Background(), "gemini", nil, model.SamplingParams{}) {
		got = append(got, chunk)
	}
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2", len(got))
	}
	if !errors.Is(got[1].Err, midStream) {
		t.Errorf("last chunk error = %v, want %v", got[1].Err, midStream)
	}
}
