package agents

import (
	"context"
	"fmt"
	"strings"

	"codecrew/pkg/agent/llm"
	"codecrew/pkg/logx"
	"codecrew/pkg/utils"
)

const coderSystemPrompt = `You are an expert Python developer. Generate clean, testable Python code.

REQUIREMENTS:
1. Functions MUST return results for testing
2. Include type hints and docstrings
3. Handle edge cases
4. Create a main() function for interactive use with input()
5. End with an if __name__ == "__main__": block containing only a commented-out main() call
6. Every variable must be defined before use

Return ONLY Python code inside a single fenced code block, no explanations.`

// Default prompt budget when the model is unknown to the catalog.
const defaultPromptTokenBudget = 6000

// Coder generates code from the active prompt plus the latest rejection
// feedback.
type Coder struct {
	client      llm.Client
	counter     *utils.TokenCounter
	tokenBudget int
	logger      *logx.Logger
}

// NewCoder creates a coder. The token counter bounds the composed prompt;
// a nil counter falls back to character-based estimation.
func NewCoder(client llm.Client, counter *utils.TokenCounter, tokenBudget int) *Coder {
	if tokenBudget <= 0 {
		tokenBudget = defaultPromptTokenBudget
	}
	return &Coder{
		client:      client,
		counter:     counter,
		tokenBudget: tokenBudget,
		logger:      logx.NewLogger("coder"),
	}
}

// Generate produces code for the prompt. feedback carries the rendered
// latest rejection ("Reviewer said ..." / "Tester said ...") and is empty
// on the first attempt.
func (c *Coder) Generate(ctx context.Context, prompt, feedback string, attempt int) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TASK: %s\n", prompt)
	if feedback != "" {
		fmt.Fprintf(&sb, "\nYour previous attempt was rejected. Address this feedback:\n%s\n", feedback)
	}

	user := c.counter.TruncateToTokenLimit(sb.String(), c.tokenBudget)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(coderSystemPrompt),
		llm.NewUserMessage(user),
	})
	req.Temperature = llm.TemperatureDefault

	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("code generation failed: %w", err)
	}

	code := ExtractCode(resp.Content)
	if code == "" {
		return "", fmt.Errorf("code generation produced empty output")
	}
	c.logger.Debug("attempt %d produced %d chars of code", attempt, len(code))
	return code, nil
}
