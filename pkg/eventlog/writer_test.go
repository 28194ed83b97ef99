package eventlog

import (
	"strings"
	"testing"

	"codecrew/pkg/proto"
)

func TestWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir, 24)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer writer.Close()

	ev := proto.NewEvent("sess-1", proto.EventLog)
	ev.Seq = 1
	ev.SetPayload(proto.KeyMessage, "generation started")
	ev.SetPayload(proto.KeyAgent, "coder")
	if err := writer.WriteEvent(ev); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	ev2 := proto.NewEvent("sess-1", proto.EventStatus)
	ev2.Seq = 2
	ev2.SetPayload(proto.KeyStatus, string(proto.StatusGenerating))
	if err := writer.Deliver(ev2); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	path := writer.CurrentLogFile()
	if !strings.HasSuffix(path, ".jsonl") {
		t.Errorf("log file path = %q", path)
	}

	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("read %d events, want 2", len(events))
	}
	if events[0].Kind != proto.EventLog || events[0].Seq != 1 {
		t.Errorf("first event = %+v", events[0])
	}
	if msg := events[0].PayloadString(proto.KeyMessage); msg != "generation started" {
		t.Errorf("payload message = %q", msg)
	}
	if events[1].Kind != proto.EventStatus {
		t.Errorf("second event kind = %s", events[1].Kind)
	}
}

func TestListLogFiles(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir, 24)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer writer.Close()

	ev := proto.NewEvent("s", proto.EventLog)
	if err := writer.WriteEvent(ev); err != nil {
		t.Fatal(err)
	}

	files, err := ListLogFiles(dir)
	if err != nil {
		t.Fatalf("ListLogFiles: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("got %d files, want 1", len(files))
	}
}

func TestReadEventsMissingFile(t *testing.T) {
	if _, err := ReadEvents("/nonexistent/events.jsonl"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriterCloseIdempotent(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), 24)
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
