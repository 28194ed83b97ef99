package agents

import (
	"context"
	"fmt"
	"strings"

	"codecrew/pkg/agent/llm"
	"codecrew/pkg/logx"
)

const reviewerSystemPrompt = `You are a code reviewer. Analyze the following Python code for correctness WITHOUT executing it.

Analyze the code for:
1. Logic errors - does the algorithm correctly solve the problem?
2. Edge cases - are boundary conditions handled?
3. Input validation - are inputs properly checked?
4. Best practices - is the code well-structured?

Respond in this EXACT format:
STATUS: APPROVED or REJECTED
FEEDBACK: your detailed feedback here (one paragraph)`

// Verdict is the outcome of a review.
type Verdict struct {
	Approved bool
	Feedback string
}

// Reviewer performs static review of generated code.
type Reviewer struct {
	client llm.Client
	logger *logx.Logger
}

// NewReviewer creates a reviewer backed by the given client.
func NewReviewer(client llm.Client) *Reviewer {
	return &Reviewer{
		client: client,
		logger: logx.NewLogger("reviewer"),
	}
}

// Review checks code against the problem statement and returns a verdict.
// An unparseable response is treated as a rejection with the raw response
// as feedback, so a sloppy model never slips code through unreviewed.
func (r *Reviewer) Review(ctx context.Context, problem, code string) (Verdict, error) {
	user := fmt.Sprintf("Problem description:\n%s\n\nCode to review:\n```python\n%s\n```", problem, code)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(reviewerSystemPrompt),
		llm.NewUserMessage(user),
	})
	req.Temperature = llm.TemperatureDeterministic

	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return Verdict{}, fmt.Errorf("review failed: %w", err)
	}

	verdict := parseVerdict(resp.Content)
	r.logger.Debug("review verdict approved=%t", verdict.Approved)
	return verdict, nil
}

// parseVerdict extracts STATUS and FEEDBACK lines from the response.
func parseVerdict(response string) Verdict {
	var verdict Verdict
	var statusSeen bool
	var feedback []string
	inFeedback := false

	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)

		switch {
		case strings.HasPrefix(upper, "STATUS:"):
			statusSeen = true
			inFeedback = false
			value := strings.ToLower(strings.TrimSpace(trimmed[len("STATUS:"):]))
			verdict.Approved = strings.Contains(value, "approved")
		case strings.HasPrefix(upper, "FEEDBACK:"):
			inFeedback = true
			if rest := strings.TrimSpace(trimmed[len("FEEDBACK:"):]); rest != "" {
				feedback = append(feedback, rest)
			}
		case inFeedback && trimmed != "":
			feedback = append(feedback, trimmed)
		}
	}

	verdict.Feedback = strings.Join(feedback, " ")
	if !statusSeen {
		// Unparseable response: reject and carry the raw text forward.
		verdict.Approved = false
		verdict.Feedback = strings.TrimSpace(response)
	}
	if verdict.Feedback == "" && !verdict.Approved {
		verdict.Feedback = "code rejected without specific feedback"
	}
	return verdict
}
