// Package logging provides logging middleware for LLM clients.
package logging

import (
	"context"
	"time"

	"codecrew/pkg/agent/llm"
	"codecrew/pkg/agent/llmerrors"
	"codecrew/pkg/logx"
)

// Middleware returns a middleware function that logs request outcomes and
// durations for every LLM call.
func Middleware(component string) llm.Middleware {
	logger := logx.NewLogger(component)

	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				elapsed := time.Since(start)

				if err != nil {
					logger.Warn("LLM request to %s failed after %s (%s): %v",
						next.ModelName(), elapsed.Round(time.Millisecond), llmerrors.TypeOf(err), err)
					return resp, err
				}

				logger.Debug("LLM request to %s completed in %s (%d chars)",
					next.ModelName(), elapsed.Round(time.Millisecond), len(resp.Content))
				return resp, nil
			},
			func() string {
				return next.ModelName()
			},
		)
	}
}
