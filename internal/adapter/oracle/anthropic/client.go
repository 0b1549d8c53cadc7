// Package anthropicoracle implements domain.Oracle against the Anthropic
// Messages API: one model, retried with backoff on transient failures,
// tripped by a per-model circuit breaker, and throttled by an in-process
// concurrency cap — the same wiring shape the teacher uses for its
// OpenRouter/Groq client, stripped down to a single provider.
package anthropicoracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/fairyhunter13/cogtriangulate/internal/adapter/observability"
	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// maxResponseBytes bounds how much text the client will accept from a
// single completion; a response past this ceiling is treated as a
// non-retryable truncation failure rather than fed into JSON parsing.
const maxResponseBytes = 256 * 1024

// Client implements domain.Oracle against a single Anthropic model.
type Client struct {
	sdk     anthropic.Client
	model   string
	timeout time.Duration

	limiter  *rate.Limiter
	breakers *CircuitBreakerManager
	rlc      *RateLimitCache
	maxRetry backoffParams
}

type backoffParams struct {
	maxElapsed      time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
}

// New constructs a Client against the given API key and model. maxConcurrent
// bounds sustained in-process call throughput via a token-bucket limiter;
// timeout is the hard per-call deadline applied on top of the caller's
// context.
func New(apiKey, model string, timeout time.Duration, maxConcurrent int, maxElapsed, initialInterval, maxInterval time.Duration, multiplier float64) *Client {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Client{
		sdk:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:    model,
		timeout:  timeout,
		limiter:  rate.NewLimiter(rate.Limit(maxConcurrent), maxConcurrent),
		breakers: NewCircuitBreakerManager(),
		rlc:      NewRateLimitCache(),
		maxRetry: backoffParams{
			maxElapsed:      maxElapsed,
			initialInterval: initialInterval,
			maxInterval:     maxInterval,
			multiplier:      multiplier,
		},
	}
}

// Call sends a system/user prompt pair and returns the completion body
// along with token usage, retrying transient failures with exponential
// backoff up to the configured elapsed-time budget.
func (c *Client) Call(ctx domain.Context, system, user string) (string, domain.Usage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", domain.Usage{}, fmt.Errorf("op=oracle.call.limiter: %w", err)
	}

	breaker := c.breakers.GetBreaker(c.model)
	if !breaker.ShouldAttempt() {
		return "", domain.Usage{}, fmt.Errorf("op=oracle.call model=%s: %w: circuit open", c.model, domain.ErrUpstreamTimeout)
	}
	if c.rlc.IsModelBlocked(c.model) {
		return "", domain.Usage{}, fmt.Errorf("op=oracle.call model=%s: %w: cooling down for %s", c.model, domain.ErrUpstreamRateLimit, c.rlc.RemainingBlockDuration(c.model))
	}

	var body string
	var usage domain.Usage

	callStart := time.Now()
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		msg, err := c.sdk.Messages.New(callCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: 4096,
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
			},
		})
		if err != nil {
			retryable, retryAfter := classifyError(err)
			if retryAfter > 0 {
				c.rlc.RecordRateLimit(c.model, retryAfter)
			}
			if !retryable {
				return backoff.Permanent(fmt.Errorf("op=oracle.call model=%s: %w", c.model, err))
			}
			return fmt.Errorf("op=oracle.call model=%s: %w", c.model, err)
		}

		var text string
		for _, block := range msg.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		if len(text) > maxResponseBytes {
			return backoff.Permanent(fmt.Errorf("op=oracle.call model=%s: response exceeds %d bytes: %w", c.model, maxResponseBytes, domain.ErrSchemaInvalid))
		}

		body = text
		usage = domain.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		}
		return nil
	}

	bo := c.newBackoff(ctx)
	observability.OracleRequestsTotal.WithLabelValues("generate").Inc()
	if err := backoff.Retry(op, bo); err != nil {
		breaker.RecordFailure()
		observability.OracleRequestDuration.WithLabelValues("generate").Observe(time.Since(callStart).Seconds())
		return "", domain.Usage{}, err
	}

	breaker.RecordSuccess()
	c.rlc.RecordSuccess(c.model)
	observability.OracleRequestDuration.WithLabelValues("generate").Observe(time.Since(callStart).Seconds())
	observability.RecordOracleTokenUsage("prompt", c.model, usage.PromptTokens)
	observability.RecordOracleTokenUsage("completion", c.model, usage.CompletionTokens)
	return body, usage, nil
}

func (c *Client) newBackoff(ctx context.Context) backoff.BackOffContext {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.maxRetry.initialInterval
	expo.MaxInterval = c.maxRetry.maxInterval
	expo.MaxElapsedTime = c.maxRetry.maxElapsed
	expo.Multiplier = c.maxRetry.multiplier
	return backoff.WithContext(expo, ctx)
}

// classifyError reports whether err should be retried and, for rate-limit
// responses, how long the caller should cool down before trying again.
// 4xx client errors (bad request, auth, schema rejection) are permanent;
// 429 and 5xx are retried with backoff, matching the teacher's
// retry-5xx-not-4xx classification in its OpenRouter client.
func classifyError(err error) (retryable bool, retryAfter time.Duration) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return true, 20 * time.Second
		case apiErr.StatusCode >= 500:
			return true, 0
		case apiErr.StatusCode >= 400:
			return false, 0
		}
	}
	slog.Debug("oracle call failed with unclassified error, retrying", slog.Any("error", err))
	return true, 0
}
