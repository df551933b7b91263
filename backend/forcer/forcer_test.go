package forcer_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/mock/gomock"

	"github.com/furisto/cadence/backend/event"
	"github.com/furisto/cadence/backend/forcer"
	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/backend/model/mocks"
)

const alphabet = "UDS"

func reply(text string) *model.Response {
	return &model.Response{Content: []model.ContentBlock{&model.TextBlock{Text: text}}}
}

func TestExtractBoxed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		fallback string
		want     string
	}{
		{"simple", "so \\boxed{U}", "", "U"},
		{"last wins", "\\boxed{D} then \\boxed{ S }", "", "S"},
		{"nested braces", "\\boxed{a{b}c}", "", "a{b}c"},
		{"text wrapper", "\\boxed{\\text{UUS}}", "", "UUS"},
		{"backticks", "plan:\n```\nUUD\n```", "", "UUD"},
		{"nothing", "no decision", "S", "S"},
		{"unclosed with fallback", "\\boxed{UU", "S", "S"},
		{"unclosed without fallback", "\\boxed{UU", "", "UU"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := forcer.ExtractBoxed(tt.text, tt.fallback); got != tt.want {
				t.Errorf("ExtractBoxed(%q, %q) = %q, want %q", tt.text, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want string
	}{
		{"\\boxed{U}", "U"},
		{"\\boxed{ x D }", "D"},
		{"\\boxed{?}", "S"},
		{"", "S"},
	}
	for _, tt := range tests {
		if got := forcer.Decide(tt.text, alphabet, "S"); got != tt.want {
			t.Errorf("Decide(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestEnforceKeepsExistingDecision(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)

	f := forcer.New(provider, "fast", alphabet, "S")
	text := "<think>cars on lane 2\n</think>\n\\boxed{U}"
	if got := f.Enforce(context.Background(), 0, text, nil); got != text {
		t.Errorf("Enforce() = %q, want unchanged", got)
	}
}

func TestEnforceIgnoresMarkerInsideReasoning(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Generate(gomock.Any(), "fast", gomock.Any(), gomock.Any()).Return(reply(" D"), nil)

	f := forcer.New(provider, "fast", alphabet, "S")
	got := f.Enforce(context.Background(), 0, "<think>maybe \\boxed{U}", nil)

	want := "<think>maybe \\boxed{U}</think>" + forcer.Phrase + "D}"
	if got != want {
		t.Errorf("Enforce() = %q, want %q", got, want)
	}
}

func TestEnforcePrefillsAssistantTurn(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)

	prompt := []model.Message{model.UserMessage("state")}
	wantMessages := []model.Message{
		model.UserMessage("state"),
		model.AssistantMessage("partial" + forcer.Phrase),
	}
	provider.EXPECT().
		Generate(gomock.Any(), "fast", gomock.Any(), model.SamplingParams{MaxTokens: 1, TopP: 1}).
		DoAndReturn(func(_ context.Context, _ string, messages []model.Message, _ model.SamplingParams) (*model.Response, error) {
			if diff := cmp.Diff(wantMessages, messages); diff != "" {
				t.Errorf("messages mismatch (-want +got):\n%s", diff)
			}
			return reply("U"), nil
		})

	f := forcer.New(provider, "fast", alphabet, "S")
	got := f.Enforce(context.Background(), 0, "partial", prompt)
	if !strings.HasSuffix(got, "\\boxed{U}") {
		t.Errorf("Enforce() = %q", got)
	}
	if len(prompt) != 1 {
		t.Errorf("caller's messages were modified: %v", prompt)
	}
}

func TestEnforceFallsBackAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)
	gomock.InOrder(
		provider.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout")),
		provider.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(reply("X"), nil),
		provider.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(reply(""), nil),
	)

	router := event.NewEventRouter(4, nil)
	defer router.Close()
	fallbacks, unsubscribe := router.Subscribe(context.Background(), event.SubscribeOptions{
		EventTypes: []string{event.EventTypeForcerFallback},
	})
	defer unsubscribe()

	f := forcer.New(provider, "fast", alphabet, "S", forcer.WithRetryDelay(0), forcer.WithEvents(router, nil))
	got := f.Enforce(context.Background(), 12, "", nil)

	if want := forcer.Phrase + "S}"; got != want {
		t.Errorf("Enforce() = %q, want %q", got, want)
	}
	if f.Action(got) != "S" {
		t.Errorf("Action() = %q, want S", f.Action(got))
	}

	select {
	case ev := <-fallbacks:
		payload := ev.Payload.(*event.ForcerFallbackPayload)
		if ev.Tick != 12 || payload.DefaultAction != "S" || payload.Attempts != 3 {
			t.Errorf("fallback event = tick %d %+v", ev.Tick, payload)
		}
	default:
		t.Error("expected a forcer.fallback event")
	}
}

func TestHasDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"valid marker", "\\boxed{U}", true},
		{"valid after reasoning", "<think>\\boxed{?}</think>\\boxed{ D }", true},
		{"empty marker", "\\boxed{}", false},
		{"invalid character", "\\boxed{Q}", false},
		{"unclosed", "\\boxed{U", false},
		{"prose", "I will give a boxed answer later", false},
		{"marker only inside reasoning", "<think>\\boxed{U}</think>", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := forcer.HasDecision(tt.text, alphabet); got != tt.want {
				t.Errorf("HasDecision(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestEnforceForcesMalformedMarkers(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"\\boxed{}",
		"\\boxed{Q}",
		"I will give a boxed answer later",
	} {
		t.Run(text, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			provider := mocks.NewMockProvider(ctrl)
			provider.EXPECT().Generate(gomock.Any(), "fast", gomock.Any(), gomock.Any()).Return(reply("D"), nil)

			f := forcer.New(provider, "fast", alphabet, "S")
			got := f.Enforce(context.Background(), 0, text, nil)

			if want := text + forcer.Phrase + "D}"; got != want {
				t.Errorf("Enforce() = %q, want %q", got, want)
			}
			if action := f.Action(got); action != "D" {
				t.Errorf("Action() = %q, want D", action)
			}
		})
	}
}
