// Package lint runs an external style checker over generated code and
// reports findings. Findings are informational; they never fail a session.
package lint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codecrew/pkg/logx"
)

// Finding is a single style issue reported by the checker.
type Finding struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// String renders a finding in checker output form.
func (f Finding) String() string {
	return fmt.Sprintf("line %d:%d %s %s", f.Line, f.Column, f.Code, f.Message)
}

// Checker invokes an external lint command against code snippets.
type Checker struct {
	command []string
	timeout time.Duration
	logger  *logx.Logger
}

// NewChecker creates a checker for the given command, e.g.
// ["flake8", "--isolated"]. An empty command disables checking.
func NewChecker(command []string, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Checker{
		command: command,
		timeout: timeout,
		logger:  logx.NewLogger("lint"),
	}
}

// Enabled reports whether a lint command is configured.
func (c *Checker) Enabled() bool {
	return len(c.command) > 0
}

// Check writes code to a temp file and runs the lint command over it. A
// non-zero exit with parseable output yields findings; a command that
// cannot run at all returns an error so the caller can log and move on.
func (c *Checker) Check(ctx context.Context, code string) ([]Finding, error) {
	if !c.Enabled() {
		return nil, nil
	}

	dir, err := os.MkdirTemp("", "lint-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snippet.py")
	if err := os.WriteFile(path, []byte(code), 0600); err != nil {
		return nil, fmt.Errorf("failed to write snippet: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append(append([]string{}, c.command[1:]...), path)
	cmd := exec.CommandContext(ctx, c.command[0], args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("lint command failed to run: %w", runErr)
		}
		// Non-zero exit means findings were reported on stdout.
	}

	findings := parseOutput(stdout.String())
	if len(findings) > 0 {
		c.logger.Debug("checker reported %d findings", len(findings))
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		c.logger.Warn("checker stderr: %s", msg)
	}
	return findings, nil
}

// parseOutput parses checker lines of the form
// "path:line:col: CODE message" into findings. Unparseable lines are
// kept as message-only findings rather than dropped.
func parseOutput(out string) []Finding {
	var findings []Finding
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if f, ok := parseLine(line); ok {
			findings = append(findings, f)
		} else {
			findings = append(findings, Finding{Message: line})
		}
	}
	return findings
}

func parseLine(line string) (Finding, bool) {
	parts := strings.SplitN(line, ":", 4)
	if len(parts) != 4 {
		return Finding{}, false
	}
	lineNo, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Finding{}, false
	}
	col, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return Finding{}, false
	}

	rest := strings.TrimSpace(parts[3])
	code := rest
	message := ""
	if idx := strings.IndexByte(rest, ' '); idx > 0 {
		code = rest[:idx]
		message = strings.TrimSpace(rest[idx+1:])
	}
	return Finding{
		Line:    lineNo,
		Column:  col,
		Code:    code,
		Message: message,
	}, true
}
