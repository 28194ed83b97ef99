package session

import (
	"errors"
	"testing"
	"time"

	"codecrew/pkg/proto"
)

func TestNewSessionDefaults(t *testing.T) {
	sess := New("abc", "write a prime checker")
	if sess.Stage() != proto.StageCreated {
		t.Errorf("stage = %s, want CREATED", sess.Stage())
	}
	if sess.ActivePrompt() != "write a prime checker" {
		t.Errorf("active prompt = %q", sess.ActivePrompt())
	}
	if sess.Attempt() != 0 {
		t.Errorf("attempt = %d, want 0", sess.Attempt())
	}
}

func TestApplyChoice(t *testing.T) {
	sess := New("abc", "original")
	sess.SetRefinedPrompt("refined")

	sess.ApplyChoice(proto.ChoiceRefined)
	if sess.ActivePrompt() != "refined" {
		t.Errorf("active prompt = %q, want refined", sess.ActivePrompt())
	}

	sess.ApplyChoice(proto.ChoiceOriginal)
	if sess.ActivePrompt() != "original" {
		t.Errorf("active prompt = %q, want original", sess.ActivePrompt())
	}
}

func TestApplyChoiceRefinedWithoutRefinementFallsBack(t *testing.T) {
	sess := New("abc", "original")
	sess.ApplyChoice(proto.ChoiceRefined)
	if sess.ActivePrompt() != "original" {
		t.Errorf("active prompt = %q, want original fallback", sess.ActivePrompt())
	}
}

func TestLatestFeedbackOnly(t *testing.T) {
	sess := New("abc", "p")
	if sess.LatestFeedback() != nil {
		t.Error("expected nil before any feedback")
	}

	sess.AddFeedback(proto.NewFeedbackItem(proto.FeedbackSourceReviewer, "first", 1))
	sess.AddFeedback(proto.NewFeedbackItem(proto.FeedbackSourceTester, "second", 2))

	latest := sess.LatestFeedback()
	if latest == nil || latest.Summary != "second" || latest.Source != proto.FeedbackSourceTester {
		t.Errorf("latest = %+v", latest)
	}
	if got := len(sess.FeedbackHistory()); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
}

func TestTerminalStageStampsFinishedAt(t *testing.T) {
	sess := New("abc", "p")
	if !sess.FinishedAt().IsZero() {
		t.Error("finishedAt should be zero before terminal stage")
	}
	sess.SetStage(proto.StageSucceeded)
	if sess.FinishedAt().IsZero() {
		t.Error("finishedAt not stamped on terminal stage")
	}
}

func TestVersionLedgerAppendOnly(t *testing.T) {
	ledger := NewVersionLedger()
	if _, ok := ledger.Latest(); ok {
		t.Error("empty ledger should have no latest")
	}

	ledger.Append(1, "v1")
	ledger.Append(2, "v2")

	latest, ok := ledger.Latest()
	if !ok || latest.Code != "v2" || latest.Attempt != 2 {
		t.Errorf("latest = %+v", latest)
	}

	all := ledger.All()
	if len(all) != 2 || all[0].Code != "v1" {
		t.Errorf("all = %+v", all)
	}

	// Mutating the copy must not touch the ledger.
	all[0].Code = "tampered"
	again := ledger.All()
	if again[0].Code != "v1" {
		t.Error("All() exposed internal state")
	}
}

func TestRegistryCreateAndGet(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.Close()

	sess := reg.Create("prompt")
	if sess.ID() == "" {
		t.Fatal("empty session id")
	}

	got, err := reg.Get(sess.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != sess {
		t.Error("Get returned different session")
	}

	if _, err := reg.Get("nope"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestRegistryIDsUnique(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.Close()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := reg.Create("p").ID()
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
	}
}

func TestRegistryEvictsTerminalAfterGrace(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.Close()

	live := reg.Create("live")
	done := reg.Create("done")
	done.SetStage(proto.StageFailed)

	// Simulate the sweep far in the future.
	reg.evictExpired(time.Now().UTC().Add(2 * time.Minute))

	if _, err := reg.Get(live.ID()); err != nil {
		t.Error("live session evicted")
	}
	if _, err := reg.Get(done.ID()); err == nil {
		t.Error("terminal session survived grace period")
	}
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry(time.Hour)
	defer reg.Close()

	done := reg.Create("done")
	done.SetStage(proto.StageSucceeded)

	if err := reg.Remove(done.ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := reg.Get(done.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove = %v, want ErrNotFound", err)
	}

	live := reg.Create("live")
	if err := reg.Remove(live.ID()); err == nil {
		t.Error("removed a running session")
	}
	if _, err := reg.Get(live.ID()); err != nil {
		t.Error("failed Remove evicted the session anyway")
	}

	if err := reg.Remove("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove unknown id = %v, want ErrNotFound", err)
	}
}

func TestRegistryKeepsTerminalWithinGrace(t *testing.T) {
	reg := NewRegistry(time.Hour)
	defer reg.Close()

	done := reg.Create("done")
	done.SetStage(proto.StageStopped)

	reg.evictExpired(time.Now().UTC())
	if _, err := reg.Get(done.ID()); err != nil {
		t.Error("terminal session evicted before grace period")
	}
}
