package proto

import (
	"fmt"
	"strings"
)

// Stage represents one phase of a session's pipeline.
type Stage string

const (
	StageCreated        Stage = "CREATED"
	StageRefining       Stage = "REFINING"
	StageAwaitingChoice Stage = "AWAITING_CHOICE"
	StageGenerating     Stage = "GENERATING"
	StageReviewing      Stage = "REVIEWING"
	StageTesting        Stage = "TESTING"
	StageSucceeded      Stage = "SUCCEEDED"
	StageFailed         Stage = "FAILED"
	StageStopped        Stage = "STOPPED"
)

// String returns the string representation of Stage.
func (s Stage) String() string {
	return string(s)
}

// IsTerminal reports whether the stage ends a session. Terminal sessions
// are never resumed or resurrected.
func (s Stage) IsTerminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageStopped
}

// ValidateStage validates if a string is a valid stage.
func ValidateStage(stage string) (Stage, bool) {
	switch Stage(stage) {
	case StageCreated, StageRefining, StageAwaitingChoice, StageGenerating,
		StageReviewing, StageTesting, StageSucceeded, StageFailed, StageStopped:
		return Stage(stage), true
	default:
		return "", false
	}
}

// ParseStage parses a string into a Stage with validation.
func ParseStage(s string) (Stage, error) {
	if stage, valid := ValidateStage(strings.ToUpper(s)); valid {
		return stage, nil
	}
	return "", fmt.Errorf("unknown stage: %s", s)
}

// Choice represents a human checkpoint decision over prompt variants.
type Choice string

const (
	// ChoiceOriginal drives generation with the prompt as the user wrote it.
	ChoiceOriginal Choice = "original"

	// ChoiceRefined drives generation with the Refiner's output.
	ChoiceRefined Choice = "refined"

	// ChoiceRefineAgain sends the session back through the Refiner using
	// the prior refinement as context.
	ChoiceRefineAgain Choice = "refine_again"
)

// String returns the string representation of Choice.
func (c Choice) String() string {
	return string(c)
}

// ParseChoice parses a string into a Choice with validation.
func ParseChoice(s string) (Choice, error) {
	switch Choice(strings.ToLower(s)) {
	case ChoiceOriginal, ChoiceRefined, ChoiceRefineAgain:
		return Choice(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("unknown checkpoint choice: %s", s)
	}
}
