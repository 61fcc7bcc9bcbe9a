// Package generation composes prompts and produces answers through a
// generative backend, in batch and streaming modes. Backend failures never
// surface to callers as errors: batch mode degrades to a fallback result
// after bounded retries and streaming terminates with a single safe
// fragment.
package generation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// systemPrompt is the fixed instruction prefixed to every request.
	systemPrompt = `You are TalkSense AI, a helpful and knowledgeable assistant.

Rules:
- Answer directly without preamble or disclaimers
- If context is missing, use your general knowledge - do NOT mention context availability
- Be concise but complete
- DO NOT include a "Sources" section (the UI handles this)
- Format with headers/bullets if helpful`

	// maxAttempts bounds retries of transient backend failures in batch mode.
	maxAttempts = 3

	// fallbackBusy is returned when every retry attempt failed.
	fallbackBusy = "The AI is currently busy. Please try again in a moment."

	// fallbackUnavailable is returned on non-retryable failures.
	fallbackUnavailable = "The AI is temporarily unavailable. Please try again later."

	// fallbackStream terminates a broken stream; partial output already
	// delivered is never retracted.
	fallbackStream = "Sorry, something went wrong. Please try again in a moment."
)

// ErrEmptyInput is returned when the prompt is empty or blank.
// It is rejected before any I/O.
var ErrEmptyInput = errors.New("prompt must be non-empty")

// Completion is one batch response from the backend.
type Completion struct {
	Text       string
	TokensUsed int // backend-reported output tokens, 0 when unavailable
}

// Backend is the external generative-text collaborator.
type Backend interface {
	Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (*Completion, error)
	// CompleteStream yields text fragments as they arrive. A non-nil error
	// in the final pair reports why the stream ended early.
	CompleteStream(ctx context.Context, prompt string, temperature float64, maxTokens int) iter.Seq2[string, error]
}

// Result is the outcome of a batch generation, including degraded ones.
// Fallback results carry a user-safe text and TokensUsed == 0; Attempts and
// FailureReason make the recorded-but-absorbed failure observable to tests
// and pipeline metadata.
type Result struct {
	Text          string
	TokensUsed    int
	Fallback      bool
	Attempts      int
	FailureReason string
}

// Options tune a single generation call. Zero values select defaults.
type Options struct {
	Temperature float64 // default 0.3
	MaxTokens   int     // default 2000
}

func (o Options) withDefaults() Options {
	if o.Temperature == 0 {
		o.Temperature = 0.3
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = 2000
	}
	return o
}

// RetryableError marks a backend error as transient. Backends wrap
// server-side failures (overload, 5xx, 429) so the gateway retries them;
// everything else short-circuits to fallback without consuming the retry
// budget.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Generator is the generation gateway.
type Generator struct {
	backend       Backend
	retryInterval time.Duration // initial backoff interval, overridable in tests
}

// NewGenerator creates a Generator over the given backend.
func NewGenerator(backend Backend) *Generator {
	return &Generator{
		backend:       backend,
		retryInterval: time.Second,
	}
}

// Generate produces one complete answer for the prompt, optionally grounded
// in context. Transient backend failures are retried up to 3 attempts with
// exponential backoff doubling from the initial interval; exhaustion or a
// non-retryable failure yields a fallback Result, never an error. The only
// caller-visible error is ErrEmptyInput.
func (g *Generator) Generate(ctx context.Context, prompt, contextBlock string, opts Options) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyInput
	}
	opts = opts.withDefaults()
	composed := composePrompt(prompt, contextBlock)

	var completion *Completion
	attempts := 0

	operation := func() error {
		attempts++
		c, err := g.backend.Complete(ctx, composed, opts.Temperature, opts.MaxTokens)
		if err != nil {
			var retryable *RetryableError
			if errors.As(err, &retryable) {
				return err
			}
			return backoff.Permanent(err)
		}
		completion = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.retryInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx))
	if err != nil {
		text := fallbackUnavailable
		var retryable *RetryableError
		if errors.As(err, &retryable) {
			text = fallbackBusy
		}
		return &Result{
			Text:          text,
			TokensUsed:    0,
			Fallback:      true,
			Attempts:      attempts,
			FailureReason: err.Error(),
		}, nil
	}

	return &Result{
		Text:       completion.Text,
		TokensUsed: completion.TokensUsed,
		Attempts:   attempts,
	}, nil
}

// Stream produces the answer as a lazy fragment sequence. Streaming never
// retries: once fragments start flowing, a failure yields one final
// user-safe fragment and the sequence ends cleanly. No error escapes to the
// consumer after iteration begins; token counts are not reported.
func (g *Generator) Stream(ctx context.Context, prompt, contextBlock string, opts Options) (iter.Seq[string], error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyInput
	}
	opts = opts.withDefaults()
	composed := composePrompt(prompt, contextBlock)

	return func(yield func(string) bool) {
		for fragment, err := range g.backend.CompleteStream(ctx, composed, opts.Temperature, opts.MaxTokens) {
			if err != nil {
				yield(fallbackStream)
				return
			}
			if fragment == "" {
				continue
			}
			if !yield(fragment) {
				return
			}
		}
	}, nil
}

// composePrompt joins the system instruction, optional context block, and
// question into a single prompt.
func composePrompt(prompt, contextBlock string) string {
	if contextBlock != "" {
		return fmt.Sprintf(`%s

=== CONTEXT ===
%s
===============

Question: %s

Answer the question using the context when relevant. Supplement with your knowledge if needed.`, systemPrompt, contextBlock, prompt)
	}
	return fmt.Sprintf("%s\n\nUser Question: %s", systemPrompt, prompt)
}
