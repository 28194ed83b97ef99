package orch

import (
	"fmt"

	"codecrew/pkg/proto"
)

// TransitionTable maps each stage to the stages it may legally move to.
type TransitionTable map[proto.Stage][]proto.Stage

// sessionTransitions is the lifecycle of a generation session. Every
// non-terminal stage may move to STOPPED on cancellation.
//
//nolint:gochecknoglobals // Static transition table
var sessionTransitions = TransitionTable{
	proto.StageCreated: {
		proto.StageRefining,
		proto.StageStopped,
	},
	proto.StageRefining: {
		proto.StageAwaitingChoice, // refine success
		proto.StageGenerating,     // refine failure falls back to the original prompt
		proto.StageStopped,
	},
	proto.StageAwaitingChoice: {
		proto.StageGenerating, // choice resolved
		proto.StageRefining,   // refine-again
		proto.StageStopped,
	},
	proto.StageGenerating: {
		proto.StageReviewing,  // code produced
		proto.StageGenerating, // coder call failed, attempt consumed
		proto.StageFailed,     // budget exhausted
		proto.StageStopped,
	},
	proto.StageReviewing: {
		proto.StageTesting,    // approved
		proto.StageGenerating, // rejected
		proto.StageFailed,
		proto.StageStopped,
	},
	proto.StageTesting: {
		proto.StageSucceeded,  // passed
		proto.StageGenerating, // failed
		proto.StageFailed,
		proto.StageStopped,
	},
	proto.StageSucceeded: {},
	proto.StageFailed:    {},
	proto.StageStopped:   {},
}

// ValidateTransition reports whether from may move to to.
func ValidateTransition(from, to proto.Stage) error {
	for _, allowed := range sessionTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
