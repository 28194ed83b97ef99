// Package orch drives a session through the generation pipeline: refine,
// checkpoint, generate, review, test. It owns the stage transitions, the
// attempt budget, and cooperative cancellation.
package orch

import (
	"context"
	"fmt"
	"time"

	"codecrew/pkg/events"
	"codecrew/pkg/lint"
	"codecrew/pkg/logx"
	"codecrew/pkg/proto"
	"codecrew/pkg/session"
)

// Refiner clarifies a raw prompt.
type Refiner interface {
	Refine(ctx context.Context, rawPrompt string, history []string) (string, error)
}

// Coder generates code from the active prompt and latest feedback.
type Coder interface {
	Generate(ctx context.Context, prompt, feedback string, attempt int) (string, error)
}

// ReviewVerdict is the reviewer's decision.
type ReviewVerdict struct {
	Approved bool
	Feedback string
}

// Reviewer statically reviews generated code.
type Reviewer interface {
	Review(ctx context.Context, problem, code string) (ReviewVerdict, error)
}

// TestOutcome is the tester's decision.
type TestOutcome struct {
	Passed  bool
	Summary string
}

// Tester executes generated code against generated tests.
type Tester interface {
	Test(ctx context.Context, problem, code string) (TestOutcome, error)
}

// AgentSet bundles the four pipeline agents for one session.
type AgentSet struct {
	Refiner  Refiner
	Coder    Coder
	Reviewer Reviewer
	Tester   Tester
}

// Snapshotter persists a finished or progressing session. Implementations
// must tolerate being called multiple times for the same session.
type Snapshotter interface {
	SaveSnapshot(sess *session.Session) error
}

// Orchestrator runs the pipeline for sessions. One orchestrator serves
// all sessions; per-session state lives on the Session.
type Orchestrator struct {
	emitter     *events.Emitter
	linter      *lint.Checker
	store       Snapshotter
	maxAttempts int
	logger      *logx.Logger
}

// New creates an orchestrator. linter and store may be nil.
func New(emitter *events.Emitter, linter *lint.Checker, store Snapshotter, maxAttempts int) *Orchestrator {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Orchestrator{
		emitter:     emitter,
		linter:      linter,
		store:       store,
		maxAttempts: maxAttempts,
		logger:      logx.NewLogger("orch"),
	}
}

// Run drives sess from CREATED to a terminal stage. It blocks until the
// session terminates and is meant to run in its own goroutine.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session, set AgentSet) {
	o.emitStatus(sess, proto.StatusStarted, nil)

	if !o.runRefinePhase(ctx, sess, set) {
		return
	}

	o.emitStatus(sess, proto.StatusGenerating, nil)
	o.runGenerationLoop(ctx, sess, set)
}

// runRefinePhase covers CREATED through the checkpoint. Returns false if
// the session reached a terminal stage.
func (o *Orchestrator) runRefinePhase(ctx context.Context, sess *session.Session, set AgentSet) bool {
	if o.stopIfCancelled(sess) {
		return false
	}

	o.transition(sess, proto.StageRefining)
	o.emitStatus(sess, proto.StatusRefining, nil)
	o.emitLog(sess, "refiner", "refining prompt", proto.LevelInfo)

	refined, err := set.Refiner.Refine(ctx, sess.OriginalPrompt(), nil)
	if o.stopIfCancelled(sess) {
		return false
	}
	if err != nil {
		// Refinement is advisory. Fall back to the original prompt and
		// skip the checkpoint entirely.
		o.logger.Warn("session %s: refine failed, using original prompt: %v", sess.ID(), err)
		o.emitLog(sess, "refiner", fmt.Sprintf("refinement failed (%v), using original prompt", err), proto.LevelWarning)
		sess.ApplyChoice(proto.ChoiceOriginal)
		o.transition(sess, proto.StageGenerating)
		return true
	}

	sess.SetRefinedPrompt(refined)
	o.transition(sess, proto.StageAwaitingChoice)
	o.emitRefinedPrompt(sess)

	for {
		choice, ok := o.awaitChoice(ctx, sess)
		if !ok {
			o.stop(sess)
			return false
		}

		if choice != proto.ChoiceRefineAgain {
			sess.ApplyChoice(choice)
			o.transition(sess, proto.StageGenerating)
			return true
		}

		o.transition(sess, proto.StageRefining)
		o.emitStatus(sess, proto.StatusRefining, nil)
		again, err := set.Refiner.Refine(ctx, sess.OriginalPrompt(), sess.RefinementHistory())
		if o.stopIfCancelled(sess) {
			return false
		}
		if err != nil {
			o.emitLog(sess, "refiner", fmt.Sprintf("re-refinement failed (%v), using original prompt", err), proto.LevelWarning)
			sess.ApplyChoice(proto.ChoiceOriginal)
			o.transition(sess, proto.StageGenerating)
			return true
		}
		sess.SetRefinedPrompt(again)
		o.transition(sess, proto.StageAwaitingChoice)
		o.emitRefinedPrompt(sess)
	}
}

// awaitChoice blocks until the checkpoint decision arrives. This is the
// only unbounded wait in the pipeline; cancellation and context teardown
// both end it.
func (o *Orchestrator) awaitChoice(ctx context.Context, sess *session.Session) (proto.Choice, bool) {
	select {
	case choice := <-sess.ChoiceCh():
		if sess.CancelRequested() {
			return "", false
		}
		return choice, true
	case <-sess.CancelCh():
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// runGenerationLoop covers GENERATING/REVIEWING/TESTING until a terminal
// stage. The attempt ceiling is checked before each Coder invocation.
func (o *Orchestrator) runGenerationLoop(ctx context.Context, sess *session.Session, set AgentSet) {
	for {
		if o.stopIfCancelled(sess) {
			return
		}
		if sess.Attempt() >= o.maxAttempts {
			o.fail(sess, ErrAttemptsExhausted)
			return
		}

		attempt := sess.NextAttempt()
		feedback := ""
		if item := sess.LatestFeedback(); item != nil {
			feedback = proto.RenderFeedback([]proto.FeedbackItem{*item})
		}
		o.emitLog(sess, "coder", fmt.Sprintf("generating code (attempt %d/%d)", attempt, o.maxAttempts), proto.LevelInfo)

		code, err := set.Coder.Generate(ctx, sess.ActivePrompt(), feedback, attempt)
		if o.stopIfCancelled(sess) {
			return
		}
		if err != nil {
			// The attempt is consumed; the budget check above decides
			// whether another one starts.
			o.emitLog(sess, "coder", fmt.Sprintf("generation failed: %v", err), proto.LevelError)
			continue
		}

		sess.Ledger().Append(attempt, code)
		o.transition(sess, proto.StageReviewing)
		o.emitLog(sess, "reviewer", "reviewing code", proto.LevelInfo)

		verdict, err := set.Reviewer.Review(ctx, sess.ActivePrompt(), code)
		if o.stopIfCancelled(sess) {
			return
		}
		if err != nil {
			o.emitLog(sess, "reviewer", fmt.Sprintf("review failed: %v", err), proto.LevelError)
			o.transition(sess, proto.StageGenerating)
			continue
		}
		if !verdict.Approved {
			sess.AddFeedback(proto.NewFeedbackItem(proto.FeedbackSourceReviewer, verdict.Feedback, attempt))
			o.emitLog(sess, "reviewer", fmt.Sprintf("rejected: %s", verdict.Feedback), proto.LevelWarning)
			o.transition(sess, proto.StageGenerating)
			continue
		}
		o.emitLog(sess, "reviewer", "approved", proto.LevelSuccess)

		o.transition(sess, proto.StageTesting)
		o.emitLog(sess, "tester", "running tests", proto.LevelInfo)

		outcome, err := set.Tester.Test(ctx, sess.ActivePrompt(), code)
		if o.stopIfCancelled(sess) {
			return
		}
		if err != nil {
			o.emitLog(sess, "tester", fmt.Sprintf("testing failed: %v", err), proto.LevelError)
			o.transition(sess, proto.StageGenerating)
			continue
		}
		if !outcome.Passed {
			sess.AddFeedback(proto.NewFeedbackItem(proto.FeedbackSourceTester, outcome.Summary, attempt))
			o.emitLog(sess, "tester", fmt.Sprintf("tests failed: %s", outcome.Summary), proto.LevelWarning)
			o.transition(sess, proto.StageGenerating)
			continue
		}
		o.emitLog(sess, "tester", "all tests passed", proto.LevelSuccess)

		o.runLintPass(ctx, sess, code)
		o.succeed(sess, code)
		return
	}
}

// runLintPass surfaces style findings after the code has passed. Findings
// never change the outcome.
func (o *Orchestrator) runLintPass(ctx context.Context, sess *session.Session, code string) {
	if o.linter == nil || !o.linter.Enabled() {
		return
	}
	findings, err := o.linter.Check(ctx, code)
	if err != nil {
		o.logger.Warn("session %s: lint pass failed: %v", sess.ID(), err)
		return
	}
	if len(findings) == 0 {
		o.emitLog(sess, "lint", "no style findings", proto.LevelInfo)
		return
	}
	for _, f := range findings {
		o.emitLog(sess, "lint", f.String(), proto.LevelWarning)
	}
}

// stopIfCancelled moves the session to STOPPED when a cancel request is
// pending. Called at every stage boundary.
func (o *Orchestrator) stopIfCancelled(sess *session.Session) bool {
	if !sess.CancelRequested() {
		return false
	}
	o.stop(sess)
	return true
}

func (o *Orchestrator) stop(sess *session.Session) {
	sess.SetStage(proto.StageStopped)
	o.emitStatus(sess, proto.StatusStopped, map[string]any{proto.KeyError: ErrUserCancelled.Error()})
	o.logger.Info("session %s stopped", sess.ID())
	o.snapshot(sess)
}

func (o *Orchestrator) fail(sess *session.Session, cause error) {
	sess.SetStage(proto.StageFailed)
	o.emitStatus(sess, proto.StatusFailed, map[string]any{
		proto.KeyError:   cause.Error(),
		proto.KeyAttempt: sess.Attempt(),
	})
	o.logger.Info("session %s failed after %d attempts: %v", sess.ID(), sess.Attempt(), cause)
	o.snapshot(sess)
}

func (o *Orchestrator) succeed(sess *session.Session, code string) {
	sess.SetStage(proto.StageSucceeded)
	o.emitStatus(sess, proto.StatusCompleted, nil)

	ev := proto.NewEvent(sess.ID(), proto.EventCodeResult)
	ev.SetPayload(proto.KeyCode, code)
	ev.SetPayload(proto.KeyVersions, sess.Ledger().All())
	o.emitter.Emit(ev)

	o.logger.Info("session %s succeeded on attempt %d", sess.ID(), sess.Attempt())
	o.snapshot(sess)
}

// transition moves the session to a new stage, enforcing the table. An
// illegal internal transition is a programming error and loud in the log.
func (o *Orchestrator) transition(sess *session.Session, to proto.Stage) {
	if err := ValidateTransition(sess.Stage(), to); err != nil {
		o.logger.Error("session %s: %v", sess.ID(), err)
		return
	}
	sess.SetStage(to)
}

func (o *Orchestrator) snapshot(sess *session.Session) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveSnapshot(sess); err != nil {
		o.logger.Warn("session %s: snapshot failed: %v", sess.ID(), err)
	}
}

func (o *Orchestrator) emitStatus(sess *session.Session, status proto.Status, data map[string]any) {
	ev := proto.NewEvent(sess.ID(), proto.EventStatus)
	ev.SetPayload(proto.KeyStatus, string(status))
	for k, v := range data {
		ev.SetPayload(k, v)
	}
	o.emitter.Emit(ev)
}

func (o *Orchestrator) emitLog(sess *session.Session, agent, message string, level proto.LogLevel) {
	ev := proto.NewEvent(sess.ID(), proto.EventLog)
	ev.SetPayload(proto.KeyAgent, agent)
	ev.SetPayload(proto.KeyMessage, message)
	ev.SetPayload(proto.KeyLevel, string(level))
	ev.SetPayload("time", time.Now().UTC().Format(time.RFC3339))
	o.emitter.Emit(ev)
}

func (o *Orchestrator) emitRefinedPrompt(sess *session.Session) {
	ev := proto.NewEvent(sess.ID(), proto.EventRefinedPrompt)
	ev.SetPayload(proto.KeyOriginal, sess.OriginalPrompt())
	ev.SetPayload(proto.KeyRefined, sess.RefinedPrompt())
	o.emitter.Emit(ev)
}
