package proto

import (
	"fmt"
	"strings"
)

// FeedbackSource identifies which stage produced a rejection.
type FeedbackSource string

const (
	FeedbackSourceReviewer FeedbackSource = "REVIEWER"
	FeedbackSourceTester   FeedbackSource = "TESTER"
)

// String returns the string representation of FeedbackSource.
func (s FeedbackSource) String() string {
	return string(s)
}

// ParseFeedbackSource parses a string into a FeedbackSource with validation.
func ParseFeedbackSource(s string) (FeedbackSource, error) {
	switch FeedbackSource(strings.ToUpper(s)) {
	case FeedbackSourceReviewer, FeedbackSourceTester:
		return FeedbackSource(strings.ToUpper(s)), nil
	default:
		return "", fmt.Errorf("unknown feedback source: %s", s)
	}
}

// FeedbackItem is one structured rejection reason fed back into the next
// generation attempt. Immutable once created.
type FeedbackItem struct {
	Source  FeedbackSource `json:"source"`
	Summary string         `json:"summary"`
	Attempt int            `json:"attempt"`
}

// NewFeedbackItem creates a feedback item tagged with its originating
// stage and attempt.
func NewFeedbackItem(source FeedbackSource, summary string, attempt int) FeedbackItem {
	return FeedbackItem{
		Source:  source,
		Summary: summary,
		Attempt: attempt,
	}
}

// RenderFeedback formats feedback items for inclusion in a Coder prompt,
// in the "Reviewer said / Tester said" style.
func RenderFeedback(items []FeedbackItem) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Previous attempt was rejected. Address the following:\n")
	for i := range items {
		item := &items[i]
		switch item.Source {
		case FeedbackSourceReviewer:
			b.WriteString(fmt.Sprintf("- Reviewer said (attempt %d): %s\n", item.Attempt, item.Summary))
		case FeedbackSourceTester:
			b.WriteString(fmt.Sprintf("- Tester said (attempt %d): %s\n", item.Attempt, item.Summary))
		}
	}
	return b.String()
}
