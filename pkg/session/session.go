// Package session holds per-generation state: the session record, the
// append-only version ledger, feedback accumulation, and the concurrent
// registry of live sessions.
package session

import (
	"sync"
	"time"

	"codecrew/pkg/proto"
)

// Session is the mutable state of one generation run. All access goes
// through methods; the struct is safe for concurrent use.
type Session struct {
	id        string
	createdAt time.Time

	mu                sync.RWMutex
	stage             proto.Stage
	originalPrompt    string
	refinedPrompt     string
	activePrompt      string
	choice            proto.Choice
	attempt           int
	cancelRequested   bool
	latestFeedback    *proto.FeedbackItem
	feedbackHistory   []proto.FeedbackItem
	refinementHistory []string
	finishedAt        time.Time

	ledger *VersionLedger

	// choiceCh carries the human checkpoint decision into the run loop.
	choiceCh chan proto.Choice
	// cancelCh is closed on the first cancel request so blocked waits wake.
	cancelCh chan struct{}
}

// New creates a session in the CREATED stage.
func New(id, prompt string) *Session {
	return &Session{
		id:             id,
		createdAt:      time.Now().UTC(),
		stage:          proto.StageCreated,
		originalPrompt: prompt,
		activePrompt:   prompt,
		ledger:         NewVersionLedger(),
		choiceCh:       make(chan proto.Choice, 1),
		cancelCh:       make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Ledger returns the session's version ledger.
func (s *Session) Ledger() *VersionLedger { return s.ledger }

// ChoiceCh returns the channel the checkpoint decision arrives on.
func (s *Session) ChoiceCh() chan proto.Choice { return s.choiceCh }

// Stage returns the current stage.
func (s *Session) Stage() proto.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

// SetStage updates the current stage and stamps the finish time on
// terminal stages.
func (s *Session) SetStage(stage proto.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = stage
	if stage.IsTerminal() {
		s.finishedAt = time.Now().UTC()
	}
}

// FinishedAt returns when the session reached a terminal stage, zero if
// it has not.
func (s *Session) FinishedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finishedAt
}

// OriginalPrompt returns the prompt the session was created with.
func (s *Session) OriginalPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.originalPrompt
}

// RefinedPrompt returns the latest refinement, empty if refining failed
// or has not run.
func (s *Session) RefinedPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refinedPrompt
}

// SetRefinedPrompt records a refinement and appends it to the history.
func (s *Session) SetRefinedPrompt(refined string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refinedPrompt = refined
	s.refinementHistory = append(s.refinementHistory, refined)
}

// RefinementHistory returns every refinement produced so far.
func (s *Session) RefinementHistory() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.refinementHistory))
	copy(out, s.refinementHistory)
	return out
}

// ActivePrompt returns the prompt generation runs against.
func (s *Session) ActivePrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePrompt
}

// ApplyChoice records the checkpoint decision and fixes the active prompt
// accordingly.
func (s *Session) ApplyChoice(choice proto.Choice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.choice = choice
	if choice == proto.ChoiceRefined && s.refinedPrompt != "" {
		s.activePrompt = s.refinedPrompt
	} else {
		s.activePrompt = s.originalPrompt
	}
}

// Choice returns the recorded checkpoint decision.
func (s *Session) Choice() proto.Choice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.choice
}

// Attempt returns the number of Coder invocations consumed so far.
func (s *Session) Attempt() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempt
}

// NextAttempt increments and returns the attempt counter.
func (s *Session) NextAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt++
	return s.attempt
}

// RequestCancel flags the session for cooperative cancellation. The run
// loop honors it at the next stage boundary; the cancel channel wakes any
// blocked checkpoint wait.
func (s *Session) RequestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cancelRequested {
		s.cancelRequested = true
		close(s.cancelCh)
	}
}

// CancelCh returns a channel closed on the first cancel request.
func (s *Session) CancelCh() <-chan struct{} {
	return s.cancelCh
}

// CancelRequested reports whether a stop has been requested.
func (s *Session) CancelRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelRequested
}

// AddFeedback records a rejection. The full history is retained for
// observability; only the latest item feeds the next generation attempt.
func (s *Session) AddFeedback(item proto.FeedbackItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedbackHistory = append(s.feedbackHistory, item)
	s.latestFeedback = &item
}

// LatestFeedback returns the most recent rejection, nil before the first.
func (s *Session) LatestFeedback() *proto.FeedbackItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latestFeedback == nil {
		return nil
	}
	item := *s.latestFeedback
	return &item
}

// FeedbackHistory returns every rejection recorded so far.
func (s *Session) FeedbackHistory() []proto.FeedbackItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]proto.FeedbackItem, len(s.feedbackHistory))
	copy(out, s.feedbackHistory)
	return out
}
