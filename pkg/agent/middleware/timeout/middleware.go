// Package timeout provides timeout middleware for LLM clients.
package timeout

import (
	"context"
	"errors"
	"time"

	"codecrew/pkg/agent/llm"
	"codecrew/pkg/agent/llmerrors"
)

// Middleware returns a middleware function that wraps an LLM client with
// per-request timeout logic. Each request gets a timeout context so a hung
// inference call surfaces as a classified timeout instead of blocking the
// stage forever.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()

				resp, err := next.Complete(timeoutCtx, req)
				if err != nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
					// The per-call budget expired, not the caller's context.
					return llm.CompletionResponse{}, llmerrors.NewTimeoutError(err, duration)
				}
				return resp, err
			},
			func() string {
				return next.ModelName()
			},
		)
	}
}
