package orch

import (
	"context"
	"fmt"
	"sync"

	"codecrew/pkg/events"
	"codecrew/pkg/logx"
	"codecrew/pkg/proto"
	"codecrew/pkg/session"
)

// AgentProvider builds the agent set for a new session. model may be
// empty, in which case configured defaults apply.
type AgentProvider func(sessionID, model string) (AgentSet, error)

// Service is the command boundary of the engine: it owns the registry,
// spawns one Run goroutine per session, and validates commands against
// the session stage before touching state.
type Service struct {
	registry     *session.Registry
	emitter      *events.Emitter
	orchestrator *Orchestrator
	provider     AgentProvider
	logger       *logx.Logger

	// runCtx outlives individual commands; sessions run against it, not
	// against the request context that started them.
	runCtx    context.Context
	cancelRun context.CancelFunc

	wg sync.WaitGroup
}

// NewService wires the command layer.
func NewService(registry *session.Registry, emitter *events.Emitter, orchestrator *Orchestrator, provider AgentProvider) *Service {
	runCtx, cancelRun := context.WithCancel(context.Background())
	return &Service{
		registry:     registry,
		emitter:      emitter,
		orchestrator: orchestrator,
		provider:     provider,
		logger:       logx.NewLogger("service"),
		runCtx:       runCtx,
		cancelRun:    cancelRun,
	}
}

// StartGeneration creates a session for prompt and starts its pipeline.
// The pipeline is detached from ctx; it ends at a terminal stage or when
// the service shuts down.
func (s *Service) StartGeneration(_ context.Context, prompt, model string) (*session.Session, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	sess := s.registry.Create(prompt)

	set, err := s.provider(sess.ID(), model)
	if err != nil {
		sess.SetStage(proto.StageFailed)
		return nil, fmt.Errorf("failed to build agents for session %s: %w", sess.ID(), err)
	}

	created := proto.NewEvent(sess.ID(), proto.EventSessionCreated)
	s.emitter.Emit(created)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.orchestrator.Run(s.runCtx, sess, set)
	}()

	return sess, nil
}

// ContinueGeneration resolves the checkpoint with the original or refined
// prompt. Rejected when the session is not awaiting a choice.
func (s *Service) ContinueGeneration(sessionID string, useRefined bool) error {
	choice := proto.ChoiceOriginal
	if useRefined {
		choice = proto.ChoiceRefined
	}
	return s.resolveCheckpoint(sessionID, choice)
}

// RefineAgain asks for another refinement pass. Rejected when the session
// is not awaiting a choice.
func (s *Service) RefineAgain(sessionID string) error {
	return s.resolveCheckpoint(sessionID, proto.ChoiceRefineAgain)
}

func (s *Service) resolveCheckpoint(sessionID string, choice proto.Choice) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Stage() != proto.StageAwaitingChoice {
		s.emitError(sessionID, fmt.Sprintf("cannot resolve checkpoint in stage %s", sess.Stage()))
		return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, sessionID, sess.Stage())
	}

	select {
	case sess.ChoiceCh() <- choice:
		return nil
	default:
		// A decision is already queued; a second resolve must not
		// double-apply.
		s.emitError(sessionID, "checkpoint already resolved")
		return fmt.Errorf("%w: checkpoint for session %s already resolved", ErrInvalidTransition, sessionID)
	}
}

// StopGeneration requests a cooperative stop. Stopping an already
// terminal session is a no-op.
func (s *Service) StopGeneration(sessionID string) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Stage().IsTerminal() {
		return nil
	}
	sess.RequestCancel()
	s.logger.Info("session %s cancel requested", sessionID)
	return nil
}

// HandleCommand dispatches a decoded client command.
func (s *Service) HandleCommand(ctx context.Context, cmd *proto.Command) (*session.Session, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	switch cmd.Kind {
	case proto.CommandStartGeneration:
		return s.StartGeneration(ctx, cmd.Prompt, cmd.Model)
	case proto.CommandContinueGeneration:
		return nil, s.ContinueGeneration(cmd.SessionID, cmd.UseRefined)
	case proto.CommandRefineAgain:
		return nil, s.RefineAgain(cmd.SessionID)
	case proto.CommandStopGeneration:
		return nil, s.StopGeneration(cmd.SessionID)
	default:
		return nil, fmt.Errorf("unknown command kind: %s", cmd.Kind)
	}
}

// Wait blocks until every running session goroutine has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels every running session and blocks until their
// goroutines have finished. Blocked checkpoint waits are released.
func (s *Service) Shutdown() {
	s.cancelRun()
	for _, sess := range s.registry.All() {
		if !sess.Stage().IsTerminal() {
			sess.RequestCancel()
		}
	}
	s.wg.Wait()
}

func (s *Service) emitError(sessionID, message string) {
	ev := proto.NewEvent(sessionID, proto.EventError)
	ev.SetPayload(proto.KeyError, message)
	s.emitter.Emit(ev)
}
