package retry

import (
	"context"
	"fmt"
	"time"

	"codecrew/pkg/agent/llm"
	"codecrew/pkg/agent/llmerrors"
)

// Middleware returns a middleware function that wraps an LLM client with
// retry logic. It will retry failed requests according to the configured
// policy, with exponential backoff.
func Middleware(policy *Policy) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error

				for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
					// Wait for backoff delay (except on first attempt)
					if attempt > 1 {
						delay := policy.CalculateDelay(attempt)
						if delay > 0 {
							select {
							case <-ctx.Done():
								return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
							case <-time.After(delay):
							}
						}
					}

					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}

					lastErr = err

					if !policy.ShouldRetry(err) {
						break
					}

					if attempt >= policy.Config.MaxAttempts {
						break
					}
				}

				// Exhausting retries on a retryable error means the service is
				// effectively unreachable; surface that to the orchestrator.
				if policy.ShouldRetry(lastErr) {
					return llm.CompletionResponse{}, llmerrors.NewUnavailableError(lastErr, policy.Config.MaxAttempts)
				}
				return llm.CompletionResponse{}, lastErr
			},
			func() string {
				return next.ModelName()
			},
		)
	}
}
