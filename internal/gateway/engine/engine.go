// Package engine turns resident models into OpenAI-compatible completions.
// It owns the generation loop, sampling, stop handling, and the concurrency
// gate in front of the device.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
	"github.com/inferd-ai/inferd/internal/gateway/metrics"
	"github.com/inferd-ai/inferd/internal/gateway/modelcache"
	"github.com/inferd-ai/inferd/internal/gateway/tokenizer"
	"github.com/inferd-ai/inferd/pkg/logging"
	"github.com/inferd-ai/inferd/pkg/openai"
)

// modelHandle is the slice of a loaded model the token loop touches.
type modelHandle interface {
	Forward(ctx context.Context, tokens []int) ([]float32, error)
}

// ModelProvider supplies resident model handles.
type ModelProvider interface {
	GetModel(ctx context.Context, name string) (*modelcache.Handle, error)
	Unload(name string) bool
}

// Engine executes generations against resident models.
type Engine struct {
	models  ModelProvider
	codec   tokenizer.Codec
	sem      *semaphore.Weighted
	timeout  time.Duration
	joinWait time.Duration
	logger   logging.Interface

	now  func() time.Time
	seed func() int64
}

// New builds an engine gated to maxConcurrent simultaneous generations, each
// bounded by timeout.
func New(models ModelProvider, codec tokenizer.Codec, maxConcurrent int64, timeout time.Duration, logger logging.Interface) *Engine {
	return &Engine{
		models:   models,
		codec:    codec,
		sem:      semaphore.NewWeighted(maxConcurrent),
		timeout:  timeout,
		joinWait: joinTimeout,
		logger:   logger,
		now:      time.Now,
		seed:     func() int64 { return time.Now().UnixNano() },
	}
}

// acquire claims a concurrency slot, honoring cancellation while queued.
func (e *Engine) acquire(ctx context.Context) (release func(), err error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.InflightGenerations.Inc()
	return func() {
		metrics.InflightGenerations.Dec()
		e.sem.Release(1)
	}, nil
}

// execute runs one generation against handle, feeding spliced text deltas to
// onDelta. The concurrency slot must already be held.
func (e *Engine) execute(ctx context.Context, handle *modelcache.Handle, promptTokens []int, params openai.SamplingParams, onDelta func(string) error) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stops := params.Stop
	if len(stops) == 0 {
		stops = handle.Profile.StopSequences
	}

	start := e.now()
	gen := startGeneration(ctx, func(ctx context.Context, emit func(string) bool) (string, int, error) {
		return e.runGeneration(ctx, generateSpec{
			model:  handle.Model,
			prompt: promptTokens,
			params: params,
			stops:  stops,
			seed:   e.seed(),
		}, emit)
	})

	sp := newSplicer(stops)
	var consumeErr error
drain:
	for {
		select {
		case delta, ok := <-gen.deltas:
			if !ok {
				break drain
			}
			text, done := sp.push(delta)
			if text != "" && consumeErr == nil {
				if err := onDelta(text); err != nil {
					consumeErr = err
					cancel()
				}
			}
			if done {
				// The stop text has been seen; the token loop can stop.
				cancel()
			}
		case <-ctx.Done():
			// A worker wedged in a forward pass never closes deltas; stop
			// consuming here and let join bound the wait below.
			break drain
		}
	}

	res, joinErr := gen.join(e.joinWait)
	if joinErr != nil {
		e.logger.WithField("model", handle.Name).
			Warn("Generation worker missed join deadline")
		return "", 0, apierror.New("generate", handle.Name, joinErr)
	}
	if consumeErr != nil {
		return "", res.tokens, consumeErr
	}

	finish := res.finish
	if sp.stopped {
		finish = openai.FinishReasonStop
	} else if res.err == nil {
		if tail := sp.flush(); tail != "" {
			if err := onDelta(tail); err != nil {
				return "", res.tokens, err
			}
		}
	}

	if res.err != nil {
		// A splicer stop cancels the worker; that cancellation is not an
		// error for the request.
		if sp.stopped && errors.Is(res.err, context.Canceled) {
			res.err = nil
		} else {
			return "", res.tokens, e.translateFault(handle, res.err)
		}
	}

	metrics.GeneratedTokensTotal.WithLabelValues(handle.Name).Add(float64(res.tokens))
	metrics.GenerationDuration.WithLabelValues(handle.Name).Observe(e.now().Sub(start).Seconds())
	return finish, res.tokens, nil
}

// translateFault inspects a generation error for device faults. A faulting
// model is scheduled for unload so the next request reloads clean state.
func (e *Engine) translateFault(handle *modelcache.Handle, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "CUDA") || strings.Contains(msg, "cuda") {
		metrics.DeviceFaultsTotal.Inc()
		e.logger.WithField("model", handle.Name).WithError(err).
			Error("Device fault during generation; scheduling unload")
		go e.models.Unload(handle.Name)
		return apierror.New("generate", handle.Name, apierror.ErrGpuFault)
	}
	return apierror.New("generate", handle.Name, err)
}

// Chat serves a non-streaming chat completion.
func (e *Engine) Chat(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	params, err := req.Sampling()
	if err != nil {
		return nil, apierror.New("chat", req.Model, wrapBadRequest(err))
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	handle, err := e.models.GetModel(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	promptTokens := e.codec.Encode(handle.Profile.BuildPrompt(req.Messages, true))

	var b strings.Builder
	finish, completionTokens, err := e.execute(ctx, handle, promptTokens, params, func(text string) error {
		b.WriteString(text)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &openai.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  openai.ObjectChatCompletion,
		Created: e.now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatChoice{{
			Message:      openai.Message{Role: "assistant", Content: b.String()},
			FinishReason: finish,
		}},
		Usage: usage(len(promptTokens), completionTokens),
	}, nil
}

// ChatStream serves a streaming chat completion, invoking send once per
// chunk. The caller writes the terminating [DONE] frame.
func (e *Engine) ChatStream(ctx context.Context, req *openai.ChatCompletionRequest, send func(openai.ChatCompletionChunk) error) error {
	params, err := req.Sampling()
	if err != nil {
		return apierror.New("chat", req.Model, wrapBadRequest(err))
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	handle, err := e.models.GetModel(ctx, req.Model)
	if err != nil {
		return err
	}

	promptTokens := e.codec.Encode(handle.Profile.BuildPrompt(req.Messages, true))

	id := "chatcmpl-" + uuid.NewString()
	created := e.now().Unix()
	chunk := func(delta openai.Delta, finish *string) openai.ChatCompletionChunk {
		return openai.ChatCompletionChunk{
			ID:      id,
			Object:  openai.ObjectChatCompletionChunk,
			Created: created,
			Model:   req.Model,
			Choices: []openai.StreamChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	if err := send(chunk(openai.Delta{Role: "assistant"}, nil)); err != nil {
		return err
	}

	finish, _, err := e.execute(ctx, handle, promptTokens, params, func(text string) error {
		return send(chunk(openai.Delta{Content: text}, nil))
	})
	if err != nil {
		return err
	}

	return send(chunk(openai.Delta{}, &finish))
}

// Complete serves a non-streaming text completion.
func (e *Engine) Complete(ctx context.Context, req *openai.CompletionRequest) (*openai.CompletionResponse, error) {
	params, err := req.Sampling()
	if err != nil {
		return nil, apierror.New("complete", req.Model, wrapBadRequest(err))
	}
	if len(req.Prompt) > 1 {
		return nil, apierror.New("complete", req.Model,
			wrapBadRequest(errors.New("only a single prompt is supported")))
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	handle, err := e.models.GetModel(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	promptTokens := e.codec.Encode(req.Prompt[0])

	var b strings.Builder
	finish, completionTokens, err := e.execute(ctx, handle, promptTokens, params, func(text string) error {
		b.WriteString(text)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &openai.CompletionResponse{
		ID:      "cmpl-" + uuid.NewString(),
		Object:  openai.ObjectTextCompletion,
		Created: e.now().Unix(),
		Model:   req.Model,
		Choices: []openai.CompletionChoice{{
			Text:         b.String(),
			FinishReason: finish,
		}},
		Usage: usage(len(promptTokens), completionTokens),
	}, nil
}

// CompleteStream serves a streaming text completion, invoking send once per
// chunk. The caller writes the terminating [DONE] frame.
func (e *Engine) CompleteStream(ctx context.Context, req *openai.CompletionRequest, send func(openai.CompletionChunk) error) error {
	params, err := req.Sampling()
	if err != nil {
		return apierror.New("complete", req.Model, wrapBadRequest(err))
	}
	if len(req.Prompt) > 1 {
		return apierror.New("complete", req.Model,
			wrapBadRequest(errors.New("only a single prompt is supported")))
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	handle, err := e.models.GetModel(ctx, req.Model)
	if err != nil {
		return err
	}

	promptTokens := e.codec.Encode(req.Prompt[0])

	id := "cmpl-" + uuid.NewString()
	created := e.now().Unix()
	chunk := func(text string, finish *string) openai.CompletionChunk {
		return openai.CompletionChunk{
			ID:      id,
			Object:  openai.ObjectTextCompletionChunk,
			Created: created,
			Model:   req.Model,
			Choices: []openai.StreamCompletionChoice{{Text: text, FinishReason: finish}},
		}
	}

	finish, _, err := e.execute(ctx, handle, promptTokens, params, func(text string) error {
		return send(chunk(text, nil))
	})
	if err != nil {
		return err
	}

	return send(chunk("", &finish))
}

func usage(prompt, completion int) openai.Usage {
	return openai.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func wrapBadRequest(err error) error {
	return fmt.Errorf("%w: %v", apierror.ErrBadRequest, err)
}
