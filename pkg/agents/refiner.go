// Package agents implements the four pipeline roles over the LLM client
// interface: Refiner, Coder, Reviewer, Tester. Agents are stateless; all
// session state lives with the caller.
package agents

import (
	"context"
	"fmt"
	"strings"

	"codecrew/pkg/agent/llm"
	"codecrew/pkg/logx"
)

const refinerSystemPrompt = `You are a prompt refiner for a code generation pipeline. Take the user's programming request and output a clear, structured problem description.

OUTPUT FORMAT:
FUNCTION: [name]
PURPOSE: [what it does]
INPUT: [parameters and types]
OUTPUT: [return value and type]
EDGE CASES: [what to handle]

IMPORTANT:
- Output ONLY the refined prompt in the format above
- Do NOT explain your reasoning
- Keep it concise and clear`

// Refiner turns a raw user prompt into a structured specification.
type Refiner struct {
	client llm.Client
	logger *logx.Logger
}

// NewRefiner creates a refiner backed by the given client.
func NewRefiner(client llm.Client) *Refiner {
	return &Refiner{
		client: client,
		logger: logx.NewLogger("refiner"),
	}
}

// Refine produces a refined version of rawPrompt. history holds earlier
// refinements of the same prompt; on a re-refine request the latest one is
// passed back as context so the model produces a different take.
func (r *Refiner) Refine(ctx context.Context, rawPrompt string, history []string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User's raw prompt:\n%s\n", rawPrompt)
	if len(history) > 0 {
		fmt.Fprintf(&sb, "\nA previous refinement was rejected by the user:\n%s\n", history[len(history)-1])
		sb.WriteString("\nProduce a different refinement that interprets the request more carefully.\n")
	}

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(refinerSystemPrompt),
		llm.NewUserMessage(sb.String()),
	})
	req.Temperature = llm.TemperatureDefault

	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("refinement failed: %w", err)
	}

	refined := strings.TrimSpace(resp.Content)
	if refined == "" {
		return "", fmt.Errorf("refinement produced empty output")
	}
	r.logger.Debug("refined prompt to %d chars", len(refined))
	return refined, nil
}
