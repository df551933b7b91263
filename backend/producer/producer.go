// Package producer runs slow-model generation jobs, either as one blocking
// call or as a stream drained by the tick loop.
package producer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/furisto/cadence/backend/model"
)

const DefaultBufferSize = 256

// Producer launches generation jobs.
type Producer interface {
	Start(ctx context.Context, tick int, messages []model.Message) (*Job, error)
}

// Update is what one poll added to a job.
type Update struct {
	Text     string
	Units    int
	Complete bool
}

type delta struct {
	text  string
	units int
}

// Job is one slow-model invocation. It is owned by the goroutine that polls
// it; the streaming worker only ever writes to the job's channel.
type Job struct {
	StartTick int

	raw      strings.Builder
	units    int
	complete bool

	deltas <-chan delta
	cancel context.CancelFunc
}

func (j *Job) Raw() string    { return j.raw.String() }
func (j *Job) Units() int     { return j.units }
func (j *Job) Complete() bool { return j.complete }

// Poll drains whatever output is queued without blocking.
func (j *Job) Poll() Update {
	var update Update
	for !j.complete {
		select {
		case d, ok := <-j.deltas:
			if !ok {
				j.finish()
				break
			}
			j.apply(d, &update)
		default:
			update.Units = j.units
			return update
		}
	}
	update.Units = j.units
	update.Complete = true
	return update
}

// PullUntil drains output until deadline passes, the job completes or ctx is
// done. Output still queued at the deadline stays queued for the next pull.
func (j *Job) PullUntil(ctx context.Context, deadline time.Time) Update {
	if j.complete {
		return Update{Units: j.units, Complete: true}
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	var update Update
	for !j.complete {
		select {
		case d, ok := <-j.deltas:
			if !ok {
				j.finish()
				continue
			}
			j.apply(d, &update)
		case <-timer.C:
			update.Units = j.units
			return update
		case <-ctx.Done():
			update.Units = j.units
			return update
		}
	}
	update.Units = j.units
	update.Complete = true
	return update
}

// Wait drains the job to completion.
func (j *Job) Wait(ctx context.Context) Update {
	var update Update
	for !j.complete {
		select {
		case d, ok := <-j.deltas:
			if !ok {
				j.finish()
				continue
			}
			j.apply(d, &update)
		case <-ctx.Done():
			update.Units = j.units
			return update
		}
	}
	update.Units = j.units
	update.Complete = true
	return update
}

// Abandon stops the worker. Output it has not delivered yet is lost.
func (j *Job) Abandon() {
	if j.cancel != nil {
		j.cancel()
	}
	j.finish()
}

func (j *Job) apply(d delta, update *Update) {
	j.raw.WriteString(d.text)
	update.Text += d.text
	if d.units > 0 {
		j.units = d.units
	}
}

func (j *Job) finish() {
	j.complete = true
	if j.cancel != nil {
		j.cancel()
	}
}

// Blocking issues one call per job. The job is complete when Start returns.
type Blocking struct {
	provider model.Provider
	model    string
	params   model.SamplingParams
}

func NewBlocking(provider model.Provider, modelName string, params model.SamplingParams) *Blocking {
	return &Blocking{provider: provider, model: modelName, params: params}
}

func (b *Blocking) Start(ctx context.Context, tick int, messages []model.Message) (*Job, error) {
	resp, err := b.provider.Generate(ctx, b.model, messages, b.params)
	if err != nil {
		return nil, err
	}

	job := &Job{
		StartTick: tick,
		units:     int(resp.Usage.OutputTokens),
		complete:  true,
	}
	job.raw.WriteString(resp.Text())
	return job, nil
}

// Streaming runs one worker goroutine per job that forwards the provider
// stream, marker-delimited, onto a bounded channel. Closing the channel is
// the completion signal.
type Streaming struct {
	provider   model.Provider
	model      string
	params     model.SamplingParams
	bufferSize int
}

func NewStreaming(provider model.Provider, modelName string, params model.SamplingParams) *Streaming {
	return &Streaming{
		provider:   provider,
		model:      modelName,
		params:     params,
		bufferSize: DefaultBufferSize,
	}
}

func (s *Streaming) Start(ctx context.Context, tick int, messages []model.Message) (*Job, error) {
	ctx, cancel := context.WithCancel(ctx)
	deltas := make(chan delta, s.bufferSize)

	go s.work(ctx, messages, deltas)

	return &Job{
		StartTick: tick,
		deltas:    deltas,
		cancel:    cancel,
	}, nil
}

func (s *Streaming) work(ctx context.Context, messages []model.Message, deltas chan<- delta) {
	defer close(deltas)

	var w model.MarkerWriter
	for chunk := range s.provider.Stream(ctx, s.model, messages, s.params) {
		if chunk.Err != nil {
			if ctx.Err() == nil {
				slog.Warn("generation stream ended early", "model", s.model, "error", chunk.Err)
			}
			return
		}

		d := delta{units: int(chunk.OutputTokens)}
		if chunk.Block != nil {
			d.text = w.Write(chunk.Block)
		}
		select {
		case deltas <- d:
		case <-ctx.Done():
			return
		}
	}

	if tail := w.Close(); tail != "" {
		select {
		case deltas <- delta{text: tail}:
		case <-ctx.Done():
		}
	}
}

// Collect streams one response for at most window and returns what arrived
// in time. The rest of the response is abandoned.
func Collect(ctx context.Context, provider model.Provider, modelName string, messages []model.Message, params model.SamplingParams, window time.Duration) (string, int) {
	job, _ := NewStreaming(provider, modelName, params).Start(ctx, 0, messages)
	job.PullUntil(ctx, time.Now().Add(window))
	job.Abandon()
	return job.Raw(), job.Units()
}

var (
	_ Producer = (*Blocking)(nil)
	_ Producer = (*Streaming)(nil)
)
