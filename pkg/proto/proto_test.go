package proto

import (
	"strings"
	"testing"
)

func TestParseStage(t *testing.T) {
	stage, err := ParseStage("generating")
	if err != nil {
		t.Fatalf("ParseStage failed: %v", err)
	}
	if stage != StageGenerating {
		t.Errorf("expected GENERATING, got %s", stage)
	}

	if _, err := ParseStage("bogus"); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestStageIsTerminal(t *testing.T) {
	terminals := []Stage{StageSucceeded, StageFailed, StageStopped}
	for _, s := range terminals {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	active := []Stage{StageCreated, StageRefining, StageAwaitingChoice, StageGenerating, StageReviewing, StageTesting}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParseChoice(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Choice
	}{
		{"original", ChoiceOriginal},
		{"REFINED", ChoiceRefined},
		{"refine_again", ChoiceRefineAgain},
	} {
		got, err := ParseChoice(tc.in)
		if err != nil {
			t.Fatalf("ParseChoice(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseChoice(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}

	if _, err := ParseChoice("maybe"); err == nil {
		t.Error("expected error for unknown choice")
	}
}

func TestEventRoundTrip(t *testing.T) {
	event := NewEvent("sess-1", EventStatus)
	event.SetPayload(KeyStatus, string(StatusGenerating))

	if err := event.Validate(); err != nil {
		t.Fatalf("event should validate: %v", err)
	}

	data, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	parsed, err := EventFromJSON(data)
	if err != nil {
		t.Fatalf("EventFromJSON failed: %v", err)
	}
	if parsed.SessionID != "sess-1" {
		t.Errorf("session ID lost in round trip: %s", parsed.SessionID)
	}
	if parsed.PayloadString(KeyStatus) != "generating" {
		t.Errorf("payload lost in round trip: %v", parsed.Payload)
	}
}

func TestEventValidateRejectsBadKind(t *testing.T) {
	event := NewEvent("sess-1", EventKind("bogus"))
	if err := event.Validate(); err == nil {
		t.Error("expected validation error for bogus kind")
	}
}

func TestEventIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		e := NewEvent("s", EventLog)
		if seen[e.ID] {
			t.Fatalf("duplicate event ID: %s", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestCommandValidate(t *testing.T) {
	cmd := &Command{Kind: CommandStartGeneration, Prompt: "write fizzbuzz"}
	if err := cmd.Validate(); err != nil {
		t.Fatalf("valid start command rejected: %v", err)
	}

	cmd = &Command{Kind: CommandStartGeneration}
	if err := cmd.Validate(); err == nil {
		t.Error("start_generation without prompt should fail validation")
	}

	cmd = &Command{Kind: CommandStopGeneration}
	if err := cmd.Validate(); err == nil {
		t.Error("stop_generation without session_id should fail validation")
	}

	cmd = &Command{Kind: CommandKind("bogus")}
	if err := cmd.Validate(); err == nil {
		t.Error("bogus command kind should fail validation")
	}
}

func TestRenderFeedback(t *testing.T) {
	items := []FeedbackItem{
		NewFeedbackItem(FeedbackSourceReviewer, "missing error handling", 2),
		NewFeedbackItem(FeedbackSourceTester, "Test_add failed: got 5, want 4", 2),
	}

	rendered := RenderFeedback(items)
	if !strings.Contains(rendered, "Reviewer said (attempt 2): missing error handling") {
		t.Errorf("reviewer feedback missing from render:\n%s", rendered)
	}
	if !strings.Contains(rendered, "Tester said (attempt 2)") {
		t.Errorf("tester feedback missing from render:\n%s", rendered)
	}

	if RenderFeedback(nil) != "" {
		t.Error("empty feedback should render to empty string")
	}
}
