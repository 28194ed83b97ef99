package orch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"codecrew/pkg/events"
	"codecrew/pkg/proto"
	"codecrew/pkg/session"
)

type fakeRefiner struct {
	mu      sync.Mutex
	outputs []string
	err     error
	calls   int
	history [][]string
}

func (f *fakeRefiner) Refine(_ context.Context, _ string, history []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.history = append(f.history, history)
	if f.err != nil {
		return "", f.err
	}
	idx := f.calls - 1
	if idx >= len(f.outputs) {
		idx = len(f.outputs) - 1
	}
	return f.outputs[idx], nil
}

type fakeCoder struct {
	mu        sync.Mutex
	code      string
	err       error
	calls     int
	feedbacks []string
}

func (f *fakeCoder) Generate(_ context.Context, _, feedback string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.feedbacks = append(f.feedbacks, feedback)
	if f.err != nil {
		return "", f.err
	}
	return f.code, nil
}

type fakeReviewer struct {
	mu       sync.Mutex
	verdicts []ReviewVerdict
	err      error
	calls    int
}

func (f *fakeReviewer) Review(_ context.Context, _, _ string) (ReviewVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ReviewVerdict{}, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.verdicts) {
		idx = len(f.verdicts) - 1
	}
	return f.verdicts[idx], nil
}

type fakeTester struct {
	mu       sync.Mutex
	outcomes []TestOutcome
	err      error
	calls    int
}

func (f *fakeTester) Test(_ context.Context, _, _ string) (TestOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return TestOutcome{}, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	return f.outcomes[idx], nil
}

func approveAll() *fakeReviewer {
	return &fakeReviewer{verdicts: []ReviewVerdict{{Approved: true}}}
}

func passAll() *fakeTester {
	return &fakeTester{outcomes: []TestOutcome{{Passed: true}}}
}

func newTestOrchestrator(maxAttempts int) (*Orchestrator, *events.Emitter) {
	emitter := events.NewEmitter(1000)
	return New(emitter, nil, nil, maxAttempts), emitter
}

// queueChoice resolves the checkpoint before Run reaches it; the choice
// channel is buffered so this never blocks.
func queueChoice(sess *session.Session, choice proto.Choice) {
	sess.ChoiceCh() <- choice
}

func TestSuccessOnFirstAttempt(t *testing.T) {
	o, emitter := newTestOrchestrator(10)
	sess := session.New("s1", "write add")
	queueChoice(sess, proto.ChoiceRefined)

	coder := &fakeCoder{code: "def add(a, b): return a + b"}
	o.Run(context.Background(), sess, AgentSet{
		Refiner:  &fakeRefiner{outputs: []string{"FUNCTION: add"}},
		Coder:    coder,
		Reviewer: approveAll(),
		Tester:   passAll(),
	})

	if sess.Stage() != proto.StageSucceeded {
		t.Fatalf("stage = %s, want SUCCEEDED", sess.Stage())
	}
	if sess.Attempt() != 1 {
		t.Errorf("attempt = %d, want 1", sess.Attempt())
	}
	if sess.Ledger().Len() != 1 {
		t.Errorf("ledger = %d entries, want 1", sess.Ledger().Len())
	}
	if sess.ActivePrompt() != "FUNCTION: add" {
		t.Errorf("active prompt = %q, want refined", sess.ActivePrompt())
	}

	latest, _ := sess.Ledger().Latest()
	if latest.Code != coder.code {
		t.Error("ledger latest is not the passing code")
	}

	var sawCompleted, sawCodeResult bool
	for _, ev := range emitter.History("s1", 0) {
		switch ev.Kind {
		case proto.EventStatus:
			if ev.PayloadString(proto.KeyStatus) == string(proto.StatusCompleted) {
				sawCompleted = true
			}
		case proto.EventCodeResult:
			sawCodeResult = true
			if code := ev.PayloadString(proto.KeyCode); code != coder.code {
				t.Errorf("code_result code = %q", code)
			}
		}
	}
	if !sawCompleted || !sawCodeResult {
		t.Errorf("missing terminal events: completed=%t code_result=%t", sawCompleted, sawCodeResult)
	}
}

func TestRefineFailureFallsBackToOriginal(t *testing.T) {
	o, _ := newTestOrchestrator(10)
	sess := session.New("s1", "original prompt")
	// No choice queued: the checkpoint must never be reached.

	o.Run(context.Background(), sess, AgentSet{
		Refiner:  &fakeRefiner{err: errors.New("refiner down")},
		Coder:    &fakeCoder{code: "code"},
		Reviewer: approveAll(),
		Tester:   passAll(),
	})

	if sess.Stage() != proto.StageSucceeded {
		t.Fatalf("stage = %s, want SUCCEEDED", sess.Stage())
	}
	if sess.ActivePrompt() != "original prompt" {
		t.Errorf("active prompt = %q, want original", sess.ActivePrompt())
	}
	if sess.RefinedPrompt() != "" {
		t.Errorf("refined prompt = %q, want empty", sess.RefinedPrompt())
	}
}

func TestAttemptsExhaustedAfterExactlyMaxAttempts(t *testing.T) {
	const maxAttempts = 4
	o, emitter := newTestOrchestrator(maxAttempts)
	sess := session.New("s1", "p")
	queueChoice(sess, proto.ChoiceOriginal)

	coder := &fakeCoder{code: "bad code"}
	o.Run(context.Background(), sess, AgentSet{
		Refiner:  &fakeRefiner{outputs: []string{"refined"}},
		Coder:    coder,
		Reviewer: &fakeReviewer{verdicts: []ReviewVerdict{{Approved: false, Feedback: "nope"}}},
		Tester:   passAll(),
	})

	if sess.Stage() != proto.StageFailed {
		t.Fatalf("stage = %s, want FAILED", sess.Stage())
	}
	if coder.calls != maxAttempts {
		t.Errorf("coder calls = %d, want exactly %d", coder.calls, maxAttempts)
	}
	if sess.Ledger().Len() != maxAttempts {
		t.Errorf("ledger = %d entries, want %d", sess.Ledger().Len(), maxAttempts)
	}
	if sess.Attempt() != maxAttempts {
		t.Errorf("attempt = %d, want %d", sess.Attempt(), maxAttempts)
	}

	var sawFailed bool
	for _, ev := range emitter.History("s1", 0) {
		if ev.Kind == proto.EventStatus && ev.PayloadString(proto.KeyStatus) == string(proto.StatusFailed) {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Error("no failed status event")
	}
}

func TestImmediateCancelStopsWithEmptyLedger(t *testing.T) {
	o, _ := newTestOrchestrator(10)
	sess := session.New("s1", "p")
	sess.RequestCancel()

	coder := &fakeCoder{code: "code"}
	o.Run(context.Background(), sess, AgentSet{
		Refiner:  &fakeRefiner{outputs: []string{"refined"}},
		Coder:    coder,
		Reviewer: approveAll(),
		Tester:   passAll(),
	})

	if sess.Stage() != proto.StageStopped {
		t.Fatalf("stage = %s, want STOPPED", sess.Stage())
	}
	if sess.Ledger().Len() != 0 {
		t.Errorf("ledger = %d entries, want 0", sess.Ledger().Len())
	}
	if coder.calls != 0 {
		t.Errorf("coder calls = %d, want 0", coder.calls)
	}
}

func TestCancelDuringCheckpointStops(t *testing.T) {
	o, _ := newTestOrchestrator(10)
	sess := session.New("s1", "p")

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(context.Background(), sess, AgentSet{
			Refiner:  &fakeRefiner{outputs: []string{"refined"}},
			Coder:    &fakeCoder{code: "code"},
			Reviewer: approveAll(),
			Tester:   passAll(),
		})
	}()

	// Wait for the checkpoint, then cancel instead of choosing.
	deadline := time.After(2 * time.Second)
	for sess.Stage() != proto.StageAwaitingChoice {
		select {
		case <-deadline:
			t.Fatal("never reached AWAITING_CHOICE")
		case <-time.After(time.Millisecond):
		}
	}
	sess.RequestCancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if sess.Stage() != proto.StageStopped {
		t.Errorf("stage = %s, want STOPPED", sess.Stage())
	}
}

func TestLatestRejectionOnlyFeedsNextAttempt(t *testing.T) {
	o, _ := newTestOrchestrator(10)
	sess := session.New("s1", "p")
	queueChoice(sess, proto.ChoiceOriginal)

	coder := &fakeCoder{code: "code"}
	o.Run(context.Background(), sess, AgentSet{
		Refiner: &fakeRefiner{outputs: []string{"refined"}},
		Coder:   coder,
		Reviewer: &fakeReviewer{verdicts: []ReviewVerdict{
			{Approved: false, Feedback: "reviewer complaint"},
			{Approved: true},
		}},
		Tester: &fakeTester{outcomes: []TestOutcome{
			{Passed: false, Summary: "tester complaint"},
			{Passed: true},
		}},
	})

	if sess.Stage() != proto.StageSucceeded {
		t.Fatalf("stage = %s, want SUCCEEDED", sess.Stage())
	}
	if len(coder.feedbacks) != 3 {
		t.Fatalf("coder calls = %d, want 3", len(coder.feedbacks))
	}
	if coder.feedbacks[0] != "" {
		t.Errorf("first attempt feedback = %q, want empty", coder.feedbacks[0])
	}
	if !strings.Contains(coder.feedbacks[1], "Reviewer said") || !strings.Contains(coder.feedbacks[1], "reviewer complaint") {
		t.Errorf("second attempt feedback = %q", coder.feedbacks[1])
	}
	// Third attempt must carry only the tester rejection, not the older
	// reviewer one.
	if !strings.Contains(coder.feedbacks[2], "Tester said") || strings.Contains(coder.feedbacks[2], "reviewer complaint") {
		t.Errorf("third attempt feedback = %q", coder.feedbacks[2])
	}

	if got := len(sess.FeedbackHistory()); got != 2 {
		t.Errorf("feedback history = %d items, want 2", got)
	}
}

func TestCoderErrorConsumesAttempt(t *testing.T) {
	const maxAttempts = 3
	o, _ := newTestOrchestrator(maxAttempts)
	sess := session.New("s1", "p")
	queueChoice(sess, proto.ChoiceOriginal)

	coder := &fakeCoder{err: errors.New("model unavailable")}
	o.Run(context.Background(), sess, AgentSet{
		Refiner:  &fakeRefiner{outputs: []string{"refined"}},
		Coder:    coder,
		Reviewer: approveAll(),
		Tester:   passAll(),
	})

	if sess.Stage() != proto.StageFailed {
		t.Fatalf("stage = %s, want FAILED", sess.Stage())
	}
	if coder.calls != maxAttempts {
		t.Errorf("coder calls = %d, want %d", coder.calls, maxAttempts)
	}
	if sess.Ledger().Len() != 0 {
		t.Errorf("failed generations must not append versions, ledger = %d", sess.Ledger().Len())
	}
}

func TestReviewerErrorLoopsWithoutVerdict(t *testing.T) {
	o, _ := newTestOrchestrator(10)
	sess := session.New("s1", "p")
	queueChoice(sess, proto.ChoiceOriginal)

	reviewer := &fakeReviewer{err: errors.New("review timeout")}
	coder := &fakeCoder{code: "code"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(context.Background(), sess, AgentSet{
			Refiner:  &fakeRefiner{outputs: []string{"refined"}},
			Coder:    coder,
			Reviewer: reviewer,
			Tester:   passAll(),
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate")
	}

	if sess.Stage() != proto.StageFailed {
		t.Fatalf("stage = %s, want FAILED after budget", sess.Stage())
	}
	if len(sess.FeedbackHistory()) != 0 {
		t.Error("agent errors must not become feedback items")
	}
}

func TestRefineAgainLoop(t *testing.T) {
	o, emitter := newTestOrchestrator(10)
	sess := session.New("s1", "p")
	queueChoice(sess, proto.ChoiceRefineAgain)

	refiner := &fakeRefiner{outputs: []string{"first refinement", "second refinement"}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(context.Background(), sess, AgentSet{
			Refiner:  refiner,
			Coder:    &fakeCoder{code: "code"},
			Reviewer: approveAll(),
			Tester:   passAll(),
		})
	}()

	// Wait for the second checkpoint, then take the refined prompt.
	deadline := time.After(2 * time.Second)
	for {
		refiner.mu.Lock()
		calls := refiner.calls
		refiner.mu.Unlock()
		if calls >= 2 && sess.Stage() == proto.StageAwaitingChoice {
			break
		}
		select {
		case <-deadline:
			t.Fatal("second checkpoint never arrived")
		case <-time.After(time.Millisecond):
		}
	}
	queueChoice(sess, proto.ChoiceRefined)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not terminate")
	}

	if sess.Stage() != proto.StageSucceeded {
		t.Fatalf("stage = %s", sess.Stage())
	}
	if sess.ActivePrompt() != "second refinement" {
		t.Errorf("active prompt = %q", sess.ActivePrompt())
	}
	// The re-refine call must have received the first refinement as
	// context.
	if len(refiner.history[1]) == 0 || refiner.history[1][len(refiner.history[1])-1] != "first refinement" {
		t.Errorf("re-refine history = %v", refiner.history[1])
	}

	var refinedEvents int
	for _, ev := range emitter.History("s1", 0) {
		if ev.Kind == proto.EventRefinedPrompt {
			refinedEvents++
		}
	}
	if refinedEvents != 2 {
		t.Errorf("refined_prompt events = %d, want 2", refinedEvents)
	}
}

func TestValidateTransitionTable(t *testing.T) {
	valid := [][2]proto.Stage{
		{proto.StageCreated, proto.StageRefining},
		{proto.StageRefining, proto.StageAwaitingChoice},
		{proto.StageRefining, proto.StageGenerating},
		{proto.StageAwaitingChoice, proto.StageRefining},
		{proto.StageGenerating, proto.StageReviewing},
		{proto.StageReviewing, proto.StageGenerating},
		{proto.StageTesting, proto.StageSucceeded},
	}
	for _, pair := range valid {
		if err := ValidateTransition(pair[0], pair[1]); err != nil {
			t.Errorf("transition %s -> %s rejected: %v", pair[0], pair[1], err)
		}
	}

	invalid := [][2]proto.Stage{
		{proto.StageCreated, proto.StageGenerating},
		{proto.StageSucceeded, proto.StageGenerating},
		{proto.StageAwaitingChoice, proto.StageTesting},
		{proto.StageStopped, proto.StageRefining},
	}
	for _, pair := range invalid {
		err := ValidateTransition(pair[0], pair[1])
		if err == nil {
			t.Errorf("transition %s -> %s accepted", pair[0], pair[1])
		} else if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("transition error not classified: %v", err)
		}
	}
}
