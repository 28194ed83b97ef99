package agents

import (
	"context"
	"fmt"

	"codecrew/pkg/agent/llm"
	"codecrew/pkg/logx"
	"codecrew/pkg/runner"
)

const testerSystemPrompt = `You are a test writer. Given a problem description and the Python code that solves it, write pytest tests that verify the code against the problem.

RULES:
1. The code under test lives in a file named code.py in the same directory. Import it with: from code import *
2. Write 3 to 6 focused test functions named test_*
3. Cover the happy path and the edge cases the problem mentions
4. Do NOT test interactive input() behavior; test the core functions directly
5. Do NOT redefine the functions under test

Return ONLY Python test code inside a single fenced code block, no explanations.`

// Tester generates tests for the code and executes them with a Runner.
type Tester struct {
	client llm.Client
	runner runner.Runner
	logger *logx.Logger
}

// NewTester creates a tester backed by the given client and runner.
func NewTester(client llm.Client, run runner.Runner) *Tester {
	return &Tester{
		client: client,
		runner: run,
		logger: logx.NewLogger("tester"),
	}
}

// Test asks the model for a pytest file and runs it against the code. The
// returned result carries pass/fail plus parsed failures; an error means
// the tests could not be produced or executed at all.
func (t *Tester) Test(ctx context.Context, problem, code string) (runner.Result, error) {
	user := fmt.Sprintf("Problem description:\n%s\n\nCode under test (code.py):\n```python\n%s\n```", problem, code)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(testerSystemPrompt),
		llm.NewUserMessage(user),
	})
	req.Temperature = llm.TemperatureDeterministic

	resp, err := t.client.Complete(ctx, req)
	if err != nil {
		return runner.Result{}, fmt.Errorf("test generation failed: %w", err)
	}

	tests := ExtractCode(resp.Content)
	if tests == "" {
		return runner.Result{}, fmt.Errorf("test generation produced empty output")
	}

	result, err := t.runner.Run(ctx, code, tests)
	if err != nil {
		return runner.Result{}, fmt.Errorf("test execution failed: %w", err)
	}
	t.logger.Debug("test run passed=%t failures=%d", result.Passed, len(result.Failures))
	return result, nil
}
