// Package forcer guarantees that a fast-model response ends in a parsable
// decision, asking the model for a single token when it ran out of budget.
package forcer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/furisto/cadence/backend/event"
	"github.com/furisto/cadence/backend/model"
)

const (
	openTag  = "<think>"
	closeTag = "</think>"

	// Phrase appended before asking the model for the decision token.
	Phrase = "\nTherefore, the final answer is \\boxed{"

	DefaultAttempts   = 3
	DefaultRetryDelay = 200 * time.Millisecond
)

var forcedParams = model.SamplingParams{MaxTokens: 1, Temperature: 0, TopP: 1}

type Options struct {
	Attempts   int
	RetryDelay time.Duration
	Events     *event.EventRouter
	EpisodeID  *uuid.UUID
}

type Option func(*Options)

func WithAttempts(n int) Option {
	return func(o *Options) { o.Attempts = n }
}

func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.RetryDelay = d }
}

func WithEvents(router *event.EventRouter, episodeID *uuid.UUID) Option {
	return func(o *Options) {
		o.Events = router
		o.EpisodeID = episodeID
	}
}

// Forcer closes truncated responses with a decision marker.
type Forcer struct {
	provider      model.Provider
	model         string
	alphabet      string
	defaultAction string
	opts          Options
}

func New(provider model.Provider, modelName, alphabet, defaultAction string, opts ...Option) *Forcer {
	o := Options{Attempts: DefaultAttempts, RetryDelay: DefaultRetryDelay}
	for _, opt := range opts {
		opt(&o)
	}
	return &Forcer{
		provider:      provider,
		model:         modelName,
		alphabet:      alphabet,
		defaultAction: defaultAction,
		opts:          o,
	}
}

// Enforce returns text unchanged when it already carries a well-formed
// decision after its reasoning. Otherwise the reasoning is closed, the forcing phrase
// appended and the model asked for one token, continuing its own answer.
// A valid token is spliced in; after the last failed attempt the default
// action is. tick only labels the fallback event.
func (f *Forcer) Enforce(ctx context.Context, tick int, text string, messages []model.Message) string {
	if strings.Contains(text, openTag) && !strings.Contains(text, closeTag) {
		text += closeTag
	}
	if HasDecision(text, f.alphabet) {
		return text
	}

	text += Phrase
	prefilled := append(append([]model.Message(nil), messages...), model.AssistantMessage(text))

	for attempt := 1; attempt <= f.opts.Attempts; attempt++ {
		if token, ok := f.ask(ctx, prefilled); ok {
			return text + token + "}"
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < f.opts.Attempts {
			select {
			case <-time.After(f.opts.RetryDelay):
			case <-ctx.Done():
			}
		}
	}

	slog.Warn("decision forcing failed, using default action",
		"model", f.model,
		"tick", tick,
		"default_action", f.defaultAction,
		"attempts", f.opts.Attempts,
	)
	f.opts.Events.Publish(event.NewForcerFallbackEvent(f.opts.EpisodeID, tick, f.defaultAction, f.opts.Attempts))
	return text + f.defaultAction + "}"
}

func (f *Forcer) ask(ctx context.Context, messages []model.Message) (string, bool) {
	resp, err := f.provider.Generate(ctx, f.model, messages, forcedParams)
	if err != nil {
		slog.Debug("forced decision call failed", "model", f.model, "error", err)
		return "", false
	}

	reply := strings.TrimSpace(resp.Text())
	if reply == "" {
		return "", false
	}
	first := reply[:1]
	if !strings.Contains(f.alphabet, first) {
		return "", false
	}
	return first, true
}

// Action extracts the decision from text and reduces it to one character of
// the alphabet, falling back to the default action.
func (f *Forcer) Action(text string) string {
	return Decide(text, f.alphabet, f.defaultAction)
}

// Decide is Action without a Forcer.
func Decide(text, alphabet, defaultAction string) string {
	valid := Sanitize(ExtractBoxed(text, ""), alphabet)
	if valid == "" {
		return defaultAction
	}
	return valid[:1]
}
