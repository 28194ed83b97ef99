// Package runner executes generated code against generated tests and
// reports a structured verdict.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"codecrew/pkg/logx"
)

// Failure describes a single failing test.
type Failure struct {
	TestName string `json:"test_name"`
	Message  string `json:"message"`
}

// Result is the outcome of a test run.
type Result struct {
	Passed   bool      `json:"passed"`
	Failures []Failure `json:"failures,omitempty"`
	Output   string    `json:"output"`
}

// Summary renders a short human-readable account of the failures for
// feedback composition.
func (r Result) Summary() string {
	if r.Passed {
		return "all tests passed"
	}
	if len(r.Failures) == 0 {
		return strings.TrimSpace(r.Output)
	}
	parts := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		if f.Message != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", f.TestName, f.Message))
		} else {
			parts = append(parts, f.TestName)
		}
	}
	return strings.Join(parts, "; ")
}

// Runner runs code against tests.
type Runner interface {
	Run(ctx context.Context, code, tests string) (Result, error)
}

// ExecRunner shells out to pytest in a throwaway directory.
type ExecRunner struct {
	interpreter string
	timeout     time.Duration
	logger      *logx.Logger
}

// NewExecRunner creates a pytest-based runner. interpreter defaults to
// "python3" when empty.
func NewExecRunner(interpreter string, timeout time.Duration) *ExecRunner {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExecRunner{
		interpreter: interpreter,
		timeout:     timeout,
		logger:      logx.NewLogger("runner"),
	}
}

// Run writes code and tests to a temp directory and executes pytest there.
// A zero exit is a pass; a non-zero exit yields parsed failures. Only an
// environment problem (interpreter missing, temp dir unwritable) returns
// an error.
func (r *ExecRunner) Run(ctx context.Context, code, tests string) (Result, error) {
	dir, err := os.MkdirTemp("", "testrun-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, "code.py"), []byte(code), 0600); err != nil {
		return Result{}, fmt.Errorf("failed to write code: %w", err)
	}
	testPath := filepath.Join(dir, "test_code.py")
	if err := os.WriteFile(testPath, []byte(tests), 0600); err != nil {
		return Result{}, fmt.Errorf("failed to write tests: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.interpreter, "-m", "pytest", testPath, "-v", "--tb=short")
	cmd.Dir = dir
	var buf strings.Builder
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	output := buf.String()

	if ctx.Err() == context.DeadlineExceeded {
		return Result{
			Passed: false,
			Failures: []Failure{{
				TestName: "timeout",
				Message:  fmt.Sprintf("test execution timed out after %s", r.timeout),
			}},
			Output: output,
		}, nil
	}

	if runErr == nil {
		return Result{Passed: true, Output: output}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return Result{}, fmt.Errorf("test runner failed to start: %w", runErr)
	}

	failures := parseFailures(output)
	r.logger.Debug("test run failed with %d parsed failures", len(failures))
	return Result{Passed: false, Failures: failures, Output: output}, nil
}

// parseFailures extracts failing test names and messages from verbose
// pytest output. Lines look like
// "FAILED test_code.py::test_add - AssertionError: ...".
func parseFailures(output string) []Failure {
	var failures []Failure
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "FAILED ") && !strings.HasPrefix(line, "ERROR ") {
			continue
		}
		rest := strings.TrimSpace(strings.SplitN(line, " ", 2)[1])

		name := rest
		message := ""
		if idx := strings.Index(rest, " - "); idx > 0 {
			name = rest[:idx]
			message = strings.TrimSpace(rest[idx+3:])
		}
		if idx := strings.Index(name, "::"); idx >= 0 {
			name = name[idx+2:]
		}
		failures = append(failures, Failure{TestName: name, Message: message})
	}
	return failures
}

// FakeRunner returns scripted results for tests.
type FakeRunner struct {
	Results []Result
	Err     error
	Calls   int
}

// Run implements Runner with scripted results. The last result repeats
// once the script is exhausted.
func (f *FakeRunner) Run(_ context.Context, _, _ string) (Result, error) {
	f.Calls++
	if f.Err != nil {
		return Result{}, f.Err
	}
	if len(f.Results) == 0 {
		return Result{Passed: true}, nil
	}
	idx := f.Calls - 1
	if idx >= len(f.Results) {
		idx = len(f.Results) - 1
	}
	return f.Results[idx], nil
}
